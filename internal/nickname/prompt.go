// internal/nickname/prompt.go
package nickname

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/stevebot/pkg/llm"
)

// MaxNickLength is the longest nickname the chat platform accepts.
const MaxNickLength = 32

const systemPrompt = `You invent short, funny nicknames for members of a gaming voice channel.
Answer with exactly {{.Count}} nicknames, one per line, no numbering and no commentary.
Each nickname must be at most {{.MaxLen}} characters and must not be offensive.`

const userPrompt = `Theme: {{.Theme}}`

var (
	systemTmpl = template.Must(template.New("system").Parse(systemPrompt))
	userTmpl   = template.Must(template.New("user").Parse(userPrompt))
)

type promptData struct {
	Count  int
	MaxLen int
	Theme  string
}

// Prompter builds the nickname request, capping the user-supplied theme at
// a token budget.
type Prompter struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewPrompter selects the tokenizer for model, falling back to cl100k_base
// for models tiktoken does not know.
func NewPrompter(model string, maxThemeTokens int) (*Prompter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if maxThemeTokens <= 0 {
		maxThemeTokens = 64
	}
	return &Prompter{tokenizer: enc, maxTokens: maxThemeTokens}, nil
}

// capTheme returns theme cut to the token budget.
func (p *Prompter) capTheme(theme string) string {
	if p == nil || p.tokenizer == nil {
		return theme
	}
	tokens := p.tokenizer.Encode(theme, nil, nil)
	if len(tokens) <= p.maxTokens {
		return theme
	}
	return p.tokenizer.Decode(tokens[:p.maxTokens])
}

// Build returns the messages asking for count nicknames on theme.
func (p *Prompter) Build(theme string, count int) ([]llm.Message, error) {
	data := promptData{Count: count, MaxLen: MaxNickLength, Theme: p.capTheme(theme)}
	var sys, user bytes.Buffer
	if err := systemTmpl.Execute(&sys, data); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	if err := userTmpl.Execute(&user, data); err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}, nil
}

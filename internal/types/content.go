package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Field is a titled block of text inside a Content.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Control is an interactive button attached to a Content.
type Control struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// Content is the desired state of a DisplayArtifact. It is plain data so two
// values compare structurally.
type Content struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Color       int       `json:"color,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Controls    []Control `json:"controls,omitempty"`
	// Empty marks content that means "nothing to show".
	Empty bool `json:"empty,omitempty"`
}

// Hash returns a stable digest of the content.
func (c Content) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports structural equality.
func (c Content) Equal(o Content) bool {
	return c.Hash() == o.Hash()
}

// Text flattens the content for surfaces without rich embeds.
func (c Content) Text() string {
	var sb strings.Builder
	if c.Title != "" {
		sb.WriteString(c.Title)
		sb.WriteString("\n")
	}
	if c.Description != "" {
		sb.WriteString(c.Description)
		sb.WriteString("\n")
	}
	for _, f := range c.Fields {
		sb.WriteString("\n")
		sb.WriteString(f.Name)
		sb.WriteString("\n")
		sb.WriteString(f.Value)
		sb.WriteString("\n")
	}
	if c.Footer != "" {
		sb.WriteString("\n")
		sb.WriteString(c.Footer)
	}
	return strings.TrimSpace(sb.String())
}

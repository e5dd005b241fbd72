package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/stevebot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Stevebot Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		answers := []struct {
			key, label, current string
		}{
			{"discord.token", "Discord bot token", cfg.Discord.Token},
			{"discord.guild_id", "Discord guild id for commands (optional)", cfg.Discord.GuildID},
			{"lavalink.url", "Lavalink URL", cfg.Lavalink.URL},
			{"lavalink.password", "Lavalink password", cfg.Lavalink.Password},
			{"steam.api_key", "Steam Web API key (optional)", cfg.Steam.APIKey},
			{"llm.base_url", "LLM base URL", cfg.LLM.BaseURL},
			{"llm.api_key", "LLM API key (optional)", cfg.LLM.APIKey},
			{"llm.model", "LLM model name", cfg.LLM.Model},
			{"telegram.token", "Telegram bot token (optional)", cfg.Telegram.Token},
		}
		for _, a := range answers {
			val := prompt(scanner, a.label, a.current)
			if val == a.current {
				continue
			}
			if err := config.SetValue(cfgPath, a.key, val); err != nil {
				return fmt.Errorf("save %s: %w", a.key, err)
			}
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned. Secrets are shown masked.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	shown := defaultVal
	if len(shown) > 8 && (strings.Contains(strings.ToLower(label), "token") || strings.Contains(strings.ToLower(label), "key") || strings.Contains(strings.ToLower(label), "password")) {
		shown = shown[:4] + "…"
	}
	if shown != "" {
		fmt.Printf("%s [%s]: ", label, shown)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

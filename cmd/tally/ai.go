package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tallyfin/tally/internal/cli"
	"github.com/tallyfin/tally/internal/llm"
)

func aiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai",
		Short: "Inspect the AI fallback categoriser",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show remaining daily AI categorisation budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			categorizer, err := newAICategorizer(eng)
			if err != nil {
				return err
			}

			avail, err := categorizer.CheckAvailability(cmd.Context())
			if err != nil {
				return err
			}

			if avail.Available {
				fmt.Println(cli.SuccessStyle.Render(
					fmt.Sprintf("AI categorisation available: %d of %d calls remaining today",
						avail.Remaining, avail.DailyLimit)))
			} else {
				fmt.Println(cli.WarningStyle.Render(
					fmt.Sprintf("Daily AI categorisation budget of %d calls exhausted; resets at UTC midnight",
						avail.DailyLimit)))
			}
			return nil
		},
	})

	return cmd
}

// newAICategorizer wires the AI fallback from viper configuration. The
// usage tracker is store-backed so the daily budget survives restarts.
func newAICategorizer(eng *engine) (*llm.Categorizer, error) {
	provider := viper.GetString("ai.provider")
	if provider == "" {
		provider = "anthropic"
	}

	apiKey := viper.GetString("ai.api_key")
	if apiKey == "" {
		switch provider {
		case "anthropic":
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for AI provider %q", provider)
	}

	client, err := llm.NewClient(llm.Config{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       viper.GetString("ai.model"),
		Temperature: viper.GetFloat64("ai.temperature"),
		MaxTokens:   viper.GetInt("ai.max_tokens"),
		Timeout:     viper.GetDuration("ai.timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	tracker := llm.NewUsageTracker(eng.store, viper.GetInt("ai.daily_limit"))

	return llm.NewCategorizer(client, eng.cache, tracker, llm.CategorizerConfig{
		Timeout:    viper.GetDuration("ai.timeout"),
		MaxRetries: viper.GetInt("ai.max_retries"),
		RetryDelay: viper.GetDuration("ai.retry_delay"),
	}), nil
}

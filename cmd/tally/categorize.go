package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tallyfin/tally/internal/cli"
	"github.com/tallyfin/tally/internal/llm"
	"github.com/tallyfin/tally/internal/model"
)

func categorizeCmd() *cobra.Command {
	var useAI bool
	var inputFile string

	cmd := &cobra.Command{
		Use:   "categorize [description]...",
		Short: "Categorise transaction descriptions",
		Long: `Categorise one or more transaction descriptions using the active
rule set. Descriptions are read from arguments, or from a file (one per
line) with --file. With --ai, descriptions no rule covers are sent to
the configured classification service, subject to the daily budget.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptions := args
			if inputFile != "" {
				fileDescs, err := readDescriptions(inputFile)
				if err != nil {
					return err
				}
				descriptions = append(descriptions, fileDescs...)
			}
			if len(descriptions) == 0 {
				return fmt.Errorf("no descriptions given; pass arguments or --file")
			}

			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			bar := progressbar.Default(int64(len(descriptions)), "matching")
			results := make(map[int]*model.MatchResult, len(descriptions))
			for i, desc := range descriptions {
				result, err := eng.matcher.Match(cmd.Context(), desc)
				if err != nil {
					return err
				}
				results[i] = result
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			if useAI {
				if err := runAIFallback(cmd, eng, descriptions, results); err != nil {
					// AI fallback is best-effort; rule results still stand.
					fmt.Println(cli.WarningStyle.Render("AI fallback unavailable: " + err.Error()))
				}
			}

			printResults(descriptions, results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useAI, "ai", false, "send unmatched descriptions to the AI fallback")
	cmd.Flags().StringVar(&inputFile, "file", "", "read descriptions from a file, one per line (- for stdin)")

	return cmd
}

// runAIFallback sends descriptions without a rule match through the AI
// categoriser and merges any usable answers into results.
func runAIFallback(cmd *cobra.Command, eng *engine, descriptions []string, results map[int]*model.MatchResult) error {
	var unmatched []string
	var indexes []int
	for i := range descriptions {
		if results[i] == nil {
			unmatched = append(unmatched, descriptions[i])
			indexes = append(indexes, i)
		}
	}
	if len(unmatched) == 0 {
		return nil
	}

	categorizer, err := newAICategorizer(eng)
	if err != nil {
		return err
	}

	aiResults, err := categorizer.Categorize(cmd.Context(), unmatched)
	if err != nil {
		var rateErr *llm.RateLimitError
		if errors.As(err, &rateErr) {
			return fmt.Errorf("daily limit of %d AI calls reached", rateErr.DailyLimit)
		}
		return err
	}

	for aiIdx, result := range aiResults {
		if result != nil {
			results[indexes[aiIdx]] = result
		}
	}
	return nil
}

func printResults(descriptions []string, results map[int]*model.MatchResult) {
	for i, desc := range descriptions {
		result := results[i]
		if result == nil {
			fmt.Printf("%s  %s\n", cli.SubtleStyle.Render("[uncategorised]"), desc)
			continue
		}

		label := fmt.Sprintf("[%s %.2f]", result.CategoryName, result.Confidence)
		if result.Source == model.SourceAI {
			label += " (ai)"
		}
		fmt.Printf("%s  %s\n", cli.SuccessStyle.Render(label), desc)
	}
}

func readDescriptions(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open descriptions file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var descriptions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			descriptions = append(descriptions, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read descriptions file: %w", err)
	}

	return descriptions, nil
}

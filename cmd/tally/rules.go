package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tallyfin/tally/internal/cli"
	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorisation rules",
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesTestCmd())
	cmd.AddCommand(rulesCheckCmd())
	cmd.AddCommand(rulesStatsCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	var categoryID int
	var systemOnly, userOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categorisation rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			filter := rules.Filter{}
			if categoryID > 0 {
				filter.CategoryID = &categoryID
			}
			if systemOnly {
				v := true
				filter.IsSystem = &v
			}
			if userOnly {
				v := false
				filter.IsSystem = &v
			}

			ruleList, err := eng.manager.GetRules(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if len(ruleList) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No rules found."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPATTERN\tTYPE\tCATEGORY\tCONFIDENCE\tUSES\tACTIVE")
			for _, r := range ruleList {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.2f\t%d\t%v\n",
					r.ID, r.Pattern, r.MatchType, r.CategoryID, r.Confidence, r.UseCount, r.IsActive)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&categoryID, "category", 0, "filter by category ID")
	cmd.Flags().BoolVar(&systemOnly, "system", false, "show only system rules")
	cmd.Flags().BoolVar(&userOnly, "user", false, "show only user rules")

	return cmd
}

func rulesAddCmd() *cobra.Command {
	var matchType string
	var categoryID int
	var confidence float64
	var notes string

	cmd := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Create a categorisation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			input := rules.CreateInput{
				Pattern:    args[0],
				MatchType:  model.MatchType(matchType),
				CategoryID: categoryID,
				Notes:      notes,
			}
			// Only an explicitly passed flag overrides the per-type default;
			// --confidence 0 is a legitimate value.
			if cmd.Flags().Changed("confidence") {
				input.Confidence = &confidence
			}

			rule, err := eng.manager.CreateRule(cmd.Context(), input)

			var dup *rules.DuplicateRuleError
			if errors.As(err, &dup) {
				fmt.Println(cli.WarningStyle.Render(
					fmt.Sprintf("Pattern already covered by rule %d (%s, category %d).",
						dup.Existing.ID, dup.Existing.MatchType, dup.Existing.CategoryID)))
				return err
			}
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render(
				fmt.Sprintf("Created rule %d: %q (%s) -> category %d, confidence %.2f",
					rule.ID, rule.Pattern, rule.MatchType, rule.CategoryID, rule.Confidence)))
			return nil
		},
	}

	cmd.Flags().StringVar(&matchType, "type", "contains", "match type (exact, contains, regex)")
	cmd.Flags().IntVar(&categoryID, "category", 0, "category ID the rule assigns")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "match confidence (default depends on type)")
	cmd.Flags().StringVar(&notes, "notes", "", "optional notes")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func rulesTestCmd() *cobra.Command {
	var matchType string
	var limit int

	cmd := &cobra.Command{
		Use:   "test <pattern>",
		Short: "Dry-run a candidate rule against historical transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.manager.TestRule(cmd.Context(), args[0], model.MatchType(matchType), limit)
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render(
				fmt.Sprintf("%d matching transaction(s)", result.MatchCount)))
			for _, desc := range result.SampleTransactions {
				fmt.Printf("  %s\n", desc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&matchType, "type", "contains", "match type (exact, contains, regex)")
	cmd.Flags().IntVar(&limit, "limit", 0, "how many historical descriptions to evaluate")

	return cmd
}

func rulesCheckCmd() *cobra.Command {
	var matchType string

	cmd := &cobra.Command{
		Use:   "check <pattern>",
		Short: "Check whether a pattern is already covered by an active rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			existing, err := eng.manager.CheckPatternExists(cmd.Context(), args[0], model.MatchType(matchType))
			if err != nil {
				return err
			}

			if existing == nil {
				fmt.Println(cli.SuccessStyle.Render("Pattern is available."))
				return nil
			}

			out, err := json.MarshalIndent(existing, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(cli.WarningStyle.Render("Pattern already covered:"))
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&matchType, "type", "contains", "match type (exact, contains, regex)")

	return cmd
}

func rulesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate rule statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			stats, err := eng.manager.GetRuleStats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render("Rule statistics"))
			fmt.Printf("Total:  %d\n", stats.TotalRules)
			fmt.Printf("System: %d\n", stats.SystemRules)
			fmt.Printf("User:   %d\n", stats.UserRules)

			if len(stats.ByCategory) > 0 {
				ids := make([]int, 0, len(stats.ByCategory))
				for id := range stats.ByCategory {
					ids = append(ids, id)
				}
				sort.Ints(ids)

				fmt.Println(cli.SubtleStyle.Render("\nBy category:"))
				for _, id := range ids {
					fmt.Printf("  category %d: %d rule(s)\n", id, stats.ByCategory[id])
				}
			}
			return nil
		},
	}
}

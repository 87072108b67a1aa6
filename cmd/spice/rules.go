package main

import (
	"fmt"
	"strconv"

	"github.com/Veraticus/spice-feedback/internal/cli"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/pattern"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule", "patterns"},
		Short:   "Manage pattern rules for the rule engine",
	}

	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesSeedCmd())

	return cmd
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a pattern rule",
		Example: `  spice rules add --name amazon --merchant AMAZON.COM --category Shopping --confidence 0.8
  spice rules add --name coffee --merchant '^starbucks' --regex --amount-condition lt --amount 15 --category Coffee`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			rule := &model.PatternRule{IsActive: true}
			rule.Name, _ = flags.GetString("name")
			rule.MerchantPattern, _ = flags.GetString("merchant")
			rule.IsRegex, _ = flags.GetBool("regex")
			rule.Category, _ = flags.GetString("category")
			rule.Confidence, _ = flags.GetFloat64("confidence")
			rule.Priority, _ = flags.GetInt("priority")
			rule.AmountCondition, _ = flags.GetString("amount-condition")

			for name, dst := range map[string]**float64{
				"amount": &rule.AmountValue,
				"min":    &rule.AmountMin,
				"max":    &rule.AmountMax,
			} {
				if flags.Changed(name) {
					v, _ := flags.GetFloat64(name)
					*dst = &v
				}
			}

			if err := pattern.ValidateRule(rule); err != nil {
				return err
			}

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := db.CreatePatternRule(cmd.Context(), rule); err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("created rule %d (%s → %s)", rule.ID, rule.Name, rule.Category)))
			return err
		},
	}

	cmd.Flags().String("name", "", "rule name")
	cmd.Flags().String("merchant", "", "merchant to match (exact, case-insensitive; empty matches all)")
	cmd.Flags().Bool("regex", false, "treat --merchant as a regular expression")
	cmd.Flags().String("category", "", "category to suggest")
	cmd.Flags().Float64("confidence", 0.7, "base score of the suggestion")
	cmd.Flags().Int("priority", 0, "higher priority rules are listed first")
	cmd.Flags().String("amount-condition", "any", "any, lt, le, eq, ge, gt or range")
	cmd.Flags().Float64("amount", 0, "amount for lt/le/eq/ge/gt")
	cmd.Flags().Float64("min", 0, "range minimum")
	cmd.Flags().Float64("max", 0, "range maximum")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pattern rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			activeOnly, _ := cmd.Flags().GetBool("active")

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var rules []model.PatternRule
			if activeOnly {
				rules, err = db.GetActivePatternRules(cmd.Context())
			} else {
				rules, err = db.ListPatternRules(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("failed to get pattern rules: %w", err)
			}
			if rules == nil {
				rules = []model.PatternRule{}
			}

			return writeOutput(cmd.OutOrStdout(), format, rules, func() string {
				return renderRules(rules)
			})
		},
	}

	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	cmd.Flags().BoolP("active", "a", false, "show only active rules")
	return cmd
}

func renderRules(rules []model.PatternRule) string {
	if len(rules) == 0 {
		return cli.SubtleStyle.Render("No pattern rules found") + "\n"
	}

	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		merchant := r.MerchantPattern
		switch {
		case merchant == "":
			merchant = "any"
		case r.IsRegex:
			merchant = "/" + merchant + "/"
		}
		active := cli.SuccessIcon
		if !r.IsActive {
			active = cli.ErrorIcon
		}
		rows = append(rows, []string{
			strconv.Itoa(r.ID),
			r.Name,
			merchant,
			formatAmountCondition(r),
			r.Category,
			fmt.Sprintf("%.0f%%", r.Confidence*100),
			strconv.Itoa(r.Priority),
			active,
		})
	}
	return cli.RenderTable([]string{"ID", "NAME", "MERCHANT", "AMOUNT", "CATEGORY", "CONFIDENCE", "PRIORITY", "ACTIVE"}, rows)
}

func formatAmountCondition(r model.PatternRule) string {
	value := func(p *float64) string {
		if p == nil {
			return "?"
		}
		return fmt.Sprintf("$%.2f", *p)
	}

	switch model.AmountConditionType(r.AmountCondition) {
	case model.AmountLessThan:
		return "< " + value(r.AmountValue)
	case model.AmountLessEqual:
		return "≤ " + value(r.AmountValue)
	case model.AmountEqual:
		return "= " + value(r.AmountValue)
	case model.AmountGreaterEqual:
		return "≥ " + value(r.AmountValue)
	case model.AmountGreaterThan:
		return "> " + value(r.AmountValue)
	case model.AmountRange:
		return value(r.AmountMin) + " – " + value(r.AmountMax)
	default:
		return "any"
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pattern rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule ID: %s", args[0])
			}

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := db.DeletePatternRule(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete rule %d: %w", id, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("deleted rule %d", id)))
			return err
		},
	}
}

func rulesSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the default starter rules",
		Long: `Install regex rules for transaction descriptors that name the kind of
transaction (payroll, transfers, ATM, fees). Skipped when rules already exist
unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := db.ListPatternRules(cmd.Context())
			if err != nil {
				return err
			}
			if len(existing) > 0 && !force {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("%d rules already exist; use --force to add the defaults anyway", len(existing))))
				return err
			}

			defaults := pattern.DefaultRules()
			for i := range defaults {
				if err := db.CreatePatternRule(cmd.Context(), &defaults[i]); err != nil {
					return fmt.Errorf("failed to create rule %q: %w", defaults[i].Name, err)
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("installed %d default rules", len(defaults))))
			return err
		},
	}

	cmd.Flags().Bool("force", false, "add the defaults even when rules exist")
	return cmd
}

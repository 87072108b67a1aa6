package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/spice-feedback/internal/canary"
	"github.com/Veraticus/spice-feedback/internal/cli"
	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func canaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canary",
		Short: "Control the model rollout",
		Long: `Inspect and change how much traffic is routed to the model engine.
Forward moves go through the rollout stages (0, 10, 50, 100) and must pass the
gate; rollbacks to any lower stage are always allowed.`,
	}

	cmd.AddCommand(canaryStatusCmd())
	cmd.AddCommand(canarySetCmd())
	cmd.AddCommand(canaryShadowCmd())
	cmd.AddCommand(canaryAdvanceCmd())
	cmd.AddCommand(canaryRollbackCmd())

	return cmd
}

// openController opens storage and loads the canary controller.
func openController(ctx context.Context) (*storage.SQLiteStorage, *canary.Controller, func(), error) {
	db, cleanup, err := getDatabase(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := currentConfig()
	controller := canary.NewController(db)
	if err := controller.Load(ctx, model.CanaryState{Percentage: cfg.Canary.Percentage, Shadow: cfg.Canary.Shadow}); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return db, controller, cleanup, nil
}

type canaryStatus struct {
	State          model.CanaryState        `json:"state" yaml:"state"`
	AcceptRates    []model.SourceAcceptRate `json:"accept_rates" yaml:"accept_rates"`
	History        []model.CanaryTransition `json:"history" yaml:"history"`
	Stage          int                      `json:"stage" yaml:"stage"`
	ShadowCompared int                      `json:"shadow_compared" yaml:"shadow_compared"`
	ShadowAgreed   int                      `json:"shadow_agreed" yaml:"shadow_agreed"`
}

func canaryStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show rollout state, accept rates and recent transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, _ := cmd.Flags().GetString("format")
			window, _ := cmd.Flags().GetDuration("window")
			limit, _ := cmd.Flags().GetInt("history")

			db, controller, cleanup, err := openController(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			since := time.Now().Add(-window)
			rates, err := db.AcceptRateBySource(ctx, since)
			if err != nil {
				return err
			}
			compared, agreed, err := db.ShadowAgreement(ctx, since)
			if err != nil {
				return err
			}
			history, err := controller.History(ctx, limit)
			if err != nil {
				return err
			}

			status := canaryStatus{
				State:          controller.State(),
				Stage:          controller.Stage(),
				History:        history,
				ShadowCompared: compared,
				ShadowAgreed:   agreed,
			}
			for _, source := range []model.SuggestionSource{model.SourceRule, model.SourceModel} {
				r := rates[source]
				r.Source = source
				status.AcceptRates = append(status.AcceptRates, r)
			}

			return writeOutput(cmd.OutOrStdout(), format, status, func() string {
				return renderCanaryStatus(status)
			})
		},
	}

	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	cmd.Flags().Duration("window", 7*24*time.Hour, "look-back window for accept rates")
	cmd.Flags().Int("history", 10, "number of transitions to show")
	return cmd
}

func renderCanaryStatus(s canaryStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rollout: %d%% (version %d)\n", s.State.Percentage, s.State.Version)
	fmt.Fprintf(&b, "stages:  %s\n", cli.RenderStages(canary.Stages, s.Stage))
	fmt.Fprintf(&b, "shadow:  %t", s.State.Shadow)
	if s.ShadowCompared > 0 {
		fmt.Fprintf(&b, " (%d/%d agreed)", s.ShadowAgreed, s.ShadowCompared)
	}

	out := cli.RenderBox("Canary", b.String()) + "\n"

	rows := make([][]string, 0, len(s.AcceptRates))
	for _, r := range s.AcceptRates {
		rows = append(rows, []string{cli.FormatSource(string(r.Source)), strconv.Itoa(r.Shown), strconv.Itoa(r.Accepted), fmt.Sprintf("%.1f%%", r.Rate()*100)})
	}
	out += cli.RenderTable([]string{"SOURCE", "SHOWN", "ACCEPTED", "RATE"}, rows)

	if len(s.History) > 0 {
		rows = rows[:0]
		for _, h := range s.History {
			rows = append(rows, []string{
				h.CreatedAt.Local().Format("2006-01-02 15:04"),
				fmt.Sprintf("%d%% → %d%%", h.FromPercentage, h.ToPercentage),
				strconv.FormatBool(h.Shadow),
				h.Reason,
			})
		}
		out += "\n" + cli.RenderTable([]string{"WHEN", "CHANGE", "SHADOW", "REASON"}, rows)
	}
	return out
}

func canarySetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <percentage>",
		Short: "Set the rollout percentage directly (0-100)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: percentage %q is not an integer", common.ErrRoutingMisconfiguration, args[0])
			}
			reason, _ := cmd.Flags().GetString("reason")

			_, controller, cleanup, err := openController(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := controller.SetPercentage(cmd.Context(), pct, reason)
			if err != nil {
				return err
			}
			return printState(cmd, state)
		},
	}

	cmd.Flags().String("reason", "", "audit note for the change")
	return cmd
}

func canaryShadowCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "shadow <on|off>",
		Short:     "Enable or disable shadow evaluation",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "true":
				enabled = true
			case "off", "false":
				enabled = false
			default:
				return common.Validationf("shadow must be on or off, got %q", args[0])
			}

			_, controller, cleanup, err := openController(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := controller.SetShadow(cmd.Context(), enabled)
			if err != nil {
				return err
			}
			return printState(cmd, state)
		},
	}
}

func canaryAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move to the next rollout stage if the gate passes",
		Long: `Advance the rollout one stage. Accept rates for both sources are read from
the suggestion log over --window; error rate and p95 latency are observations
supplied by the operator. Gate thresholds come from canary.gate in the config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			window, _ := cmd.Flags().GetDuration("window")
			errorRate, _ := cmd.Flags().GetFloat64("error-rate")
			p95, _ := cmd.Flags().GetDuration("p95")

			criteria, err := gateCriteria()
			if err != nil {
				return err
			}

			db, controller, cleanup, err := openController(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rates, err := db.AcceptRateBySource(ctx, time.Now().Add(-window))
			if err != nil {
				return err
			}
			rule, mdl := rates[model.SourceRule], rates[model.SourceModel]

			state, err := controller.Advance(ctx, canary.GateReport{
				RuleAcceptRate:  rule.Rate(),
				ModelAcceptRate: mdl.Rate(),
				ModelSamples:    mdl.Shown,
				ErrorRate:       errorRate,
				P95Latency:      p95,
			}, criteria)
			if err != nil {
				return err
			}
			return printState(cmd, state)
		},
	}

	cmd.Flags().Duration("window", 7*24*time.Hour, "look-back window for accept rates")
	cmd.Flags().Float64("error-rate", 0, "observed model error rate")
	cmd.Flags().Duration("p95", 0, "observed model p95 latency")
	return cmd
}

// gateCriteria reads canary.gate over the defaults.
func gateCriteria() (canary.GateCriteria, error) {
	criteria := canary.DefaultGateCriteria()
	if viper.IsSet("canary.gate") {
		if err := viper.UnmarshalKey("canary.gate", &criteria); err != nil {
			return criteria, fmt.Errorf("%w: canary.gate: %v", common.ErrInvalidConfig, err)
		}
	}
	return criteria, nil
}

func canaryRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <stage>",
		Short: "Roll back to a lower rollout stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: stage %q is not an integer", common.ErrRoutingMisconfiguration, args[0])
			}

			_, controller, cleanup, err := openController(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := controller.Rollback(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printState(cmd, state)
		},
	}
}

func printState(cmd *cobra.Command, state model.CanaryState) error {
	_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
		"rollout %d%%, shadow %t (version %d)", state.Percentage, state.Shadow, state.Version)))
	return err
}

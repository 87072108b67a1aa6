package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/spice-feedback/internal/canary"
	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/config"
	"github.com/Veraticus/spice-feedback/internal/hints"
	"github.com/Veraticus/spice-feedback/internal/llm"
	"github.com/Veraticus/spice-feedback/internal/metrics"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/pattern"
	"github.com/Veraticus/spice-feedback/internal/scoring"
	"github.com/Veraticus/spice-feedback/internal/storage"
	"github.com/Veraticus/spice-feedback/internal/suggest"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// currentConfig returns the resolved configuration, falling back to defaults
// when a command runs without the root pre-run.
func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	cfg, err := config.Load(viper.New())
	if err != nil {
		slog.Warn("Falling back to empty configuration", "error", err)
		return &config.Config{}
	}
	return cfg
}

// getDatabase opens and migrates the configured database.
func getDatabase(ctx context.Context) (*storage.SQLiteStorage, func(), error) {
	dbPath := config.ExpandPath(currentConfig().Database.Path)

	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, nil, common.NewUserError(fmt.Sprintf("could not open database at %s", dbPath), err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}
	return db, cleanup, nil
}

// app is the wired runtime for commands that serve suggestions or feedback.
type app struct {
	store    *storage.SQLiteStorage
	canary   *canary.Controller
	promoter *hints.Promoter
	service  *suggest.Service
	cfg      *config.Config
}

// newApp opens storage, loads the rollout state and wires both engines.
func newApp(ctx context.Context) (*app, func(), error) {
	cfg := currentConfig()

	db, closeDB, err := getDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}

	controller := canary.NewController(db)
	seed := model.CanaryState{Percentage: cfg.Canary.Percentage, Shadow: cfg.Canary.Shadow}
	if err := controller.Load(ctx, seed); err != nil {
		closeDB()
		return nil, nil, err
	}

	promoter := hints.NewPromoter(db, cfg.Promotion.MaxAttempts)
	recorder := metrics.New()

	opts := suggest.Options{
		Rules:           pattern.NewEngine(db),
		Canary:          controller,
		Promoter:        promoter,
		Metrics:         recorder,
		Scorer:          scoring.NewBatchScorer(db, cfg.Scoring.AskAgentThreshold, recorder),
		FeedbackTimeout: cfg.Feedback.Timeout,
	}
	if cfg.Model.Endpoint != "" {
		engine, err := llm.NewEngineFromConfig(cfg.Model)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		opts.Model = engine
	} else {
		slog.Debug("No model endpoint configured; all traffic routes to rules")
	}

	svc, err := suggest.New(db, opts)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	cleanup := func() {
		_ = svc.Close()
		closeDB()
	}
	return &app{store: db, canary: controller, promoter: promoter, service: svc, cfg: cfg}, cleanup, nil
}

// writeOutput renders v as json or yaml, or calls table for the default format.
func writeOutput(w io.Writer, format string, v any, table func() string) error {
	switch format {
	case "", "table":
		_, err := io.WriteString(w, table())
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return common.Validationf("unknown output format %q (table, json, yaml)", format)
	}
}

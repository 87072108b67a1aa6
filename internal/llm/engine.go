package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/config"
	"github.com/Veraticus/spice-feedback/internal/model"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentPredictions bounds in-flight requests per batch.
const maxConcurrentPredictions = 4

// Engine produces model-sourced candidates. Predictions are made per merchant,
// so every transaction of a merchant in a batch shares one request.
type Engine struct {
	client         Client
	cache          *predictionCache
	limiter        *rateLimiter
	defaultVersion string
	retryOpts      common.RetryOptions
}

// NewEngine wraps client with caching and rate limiting.
func NewEngine(client Client, cfg config.ModelConfig) *Engine {
	version := cfg.Version
	if version == "" {
		version = "unversioned"
	}
	return &Engine{
		client:         client,
		cache:          newPredictionCache(cfg.CacheTTL),
		limiter:        newRateLimiter(cfg.RequestsPerMinute),
		defaultVersion: version,
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// NewEngineFromConfig builds the HTTP-backed engine. It returns ErrMissingConfig
// when no endpoint is configured.
func NewEngineFromConfig(cfg config.ModelConfig) (*Engine, error) {
	client, err := NewHTTPClient(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return NewEngine(client, cfg), nil
}

// Suggest returns candidates keyed by transaction ID. A merchant whose
// prediction fails is logged and left without candidates; the call fails only
// when every prediction failed.
func (e *Engine) Suggest(ctx context.Context, txns []model.Transaction) (map[string]model.Candidates, error) {
	byMerchant := make(map[string][]model.Transaction)
	var merchants []string
	for _, txn := range txns {
		m := txn.Merchant()
		if _, ok := byMerchant[m]; !ok {
			merchants = append(merchants, m)
		}
		byMerchant[m] = append(byMerchant[m], txn)
	}

	var (
		mu          sync.Mutex
		predictions = make(map[string]Prediction, len(merchants))
		failures    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPredictions)
	for _, merchant := range merchants {
		merchant := merchant
		first := byMerchant[merchant][0]
		g.Go(func() error {
			p, err := e.predict(gctx, first)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("merchant %q: %w", merchant, err))
				return nil
			}
			predictions[merchant] = p
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		err := errors.Join(failures...)
		if len(predictions) == 0 {
			return nil, fmt.Errorf("model predictions failed: %w", err)
		}
		common.LogWarn(ctx, err, "Some model predictions failed", common.Fields{
			"failed":    len(failures),
			"merchants": len(merchants),
		})
	}

	out := make(map[string]model.Candidates, len(txns))
	for merchant, p := range predictions {
		candidates := e.toCandidates(merchant, p)
		if len(candidates) == 0 {
			continue
		}
		for _, txn := range byMerchant[merchant] {
			out[txn.ID] = candidates.Clone()
		}
	}
	return out, nil
}

func (e *Engine) predict(ctx context.Context, txn model.Transaction) (Prediction, error) {
	merchant := txn.Merchant()
	if p, ok := e.cache.get(merchant); ok {
		return p, nil
	}

	if err := e.limiter.wait(ctx); err != nil {
		return Prediction{}, fmt.Errorf("rate limit error: %w", err)
	}

	var p Prediction
	err := common.WithRetry(ctx, func() error {
		var err error
		p, err = e.client.Predict(ctx, PredictRequest{Merchant: merchant, Name: txn.Name, Amount: txn.Amount})
		return err
	}, e.retryOpts)
	if err != nil {
		return Prediction{}, err
	}

	e.cache.set(merchant, p)
	return p, nil
}

func (e *Engine) toCandidates(merchant string, p Prediction) model.Candidates {
	version := p.ModelVersion
	if version == "" {
		version = e.defaultVersion
	}

	ranked := make([]RankedCategory, len(p.Categories))
	copy(ranked, p.Categories)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	seen := make(map[string]bool, len(ranked))
	out := make(model.Candidates, 0, len(ranked))
	for _, r := range ranked {
		if r.Category == "" || r.Score < 0 || r.Score > 1 || seen[r.Category] {
			slog.Debug("Dropping model prediction", "merchant", merchant, "category", r.Category, "score", r.Score)
			continue
		}
		seen[r.Category] = true

		reason := r.Reason
		if reason == "" {
			reason = fmt.Sprintf("model %s prediction", version)
		}
		out = append(out, model.SuggestionCandidate{
			MerchantNormalized: merchant,
			Category:           r.Category,
			Source:             model.SourceModel,
			BaseScore:          r.Score,
			ModelVersion:       version,
			Reason:             reason,
		})
	}
	return out
}

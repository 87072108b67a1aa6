// Package suggest orchestrates routing, candidate gathering, feedback-adjusted
// ranking, and feedback capture for category suggestions.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/spice-feedback/internal/canary"
	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/hints"
	"github.com/Veraticus/spice-feedback/internal/metrics"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/scoring"
	"github.com/Veraticus/spice-feedback/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Engine produces engine-ordered candidates for a set of transactions.
// Transactions with no candidates may be absent from the result.
type Engine interface {
	Suggest(ctx context.Context, txns []model.Transaction) (map[string]model.Candidates, error)
}

// StateSource supplies the current rollout snapshot.
type StateSource interface {
	State() model.CanaryState
}

// MerchantPromoter re-evaluates hints for one merchant after feedback.
type MerchantPromoter interface {
	PromoteMerchant(ctx context.Context, merchant string) (*hints.Summary, error)
}

// Store is the persistence the service needs.
type Store interface {
	service.TransactionStore
	service.FeedbackStore
	service.SuggestionLog
}

// Options configures a Service.
type Options struct {
	Rules           Engine
	Model           Engine
	Canary          StateSource
	Promoter        MerchantPromoter
	Scorer          *scoring.BatchScorer
	Metrics         *metrics.Recorder
	FeedbackTimeout time.Duration
}

// Service is the suggestion orchestrator.
type Service struct {
	store           Store
	rules           Engine
	model           Engine
	canary          StateSource
	promoter        MerchantPromoter
	scorer          *scoring.BatchScorer
	metrics         *metrics.Recorder
	feedbackTimeout time.Duration
	pending         sync.WaitGroup
}

// New creates a Service. A rule engine is required; the model engine is optional.
func New(store Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	}
	if opts.Rules == nil {
		return nil, fmt.Errorf("%w: rule engine", common.ErrMissingConfig)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewBatchScorer(store, scoring.DefaultAskAgentThreshold, opts.Metrics)
	}
	if opts.FeedbackTimeout <= 0 {
		opts.FeedbackTimeout = 5 * time.Second
	}

	return &Service{
		store:           store,
		rules:           opts.Rules,
		model:           opts.Model,
		canary:          opts.Canary,
		promoter:        opts.Promoter,
		scorer:          opts.Scorer,
		metrics:         opts.Metrics,
		feedbackTimeout: opts.FeedbackTimeout,
	}, nil
}

// Metrics returns the service's counters.
func (s *Service) Metrics() *metrics.Recorder {
	return s.metrics
}

// plan is the routing outcome for one transaction.
type plan struct {
	txn      model.Transaction
	routed   model.Candidates
	other    model.Candidates
	decision model.RoutingDecision
	found    bool
}

// Suggest returns one result per distinct transaction ID, in request order.
// Engine and storage failures degrade individual results instead of failing
// the batch; only an unreadable transaction store or a canceled context
// returns an error.
func (s *Service) Suggest(ctx context.Context, ids []string) ([]model.SuggestionResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, common.Validationf("at least one transaction ID is required")
	}

	txns, err := s.store.GetTransactionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	state := s.snapshot(ctx)
	plans := make([]*plan, len(ids))
	for i, id := range ids {
		txn, ok := txns[id]
		p := &plan{txn: txn, found: ok}
		if !ok {
			p.txn = model.Transaction{ID: id}
		}
		p.decision = canary.Decide(state, id)
		if s.model == nil {
			p.decision.Source = model.SourceRule
			p.decision.Shadow = false
		}
		plans[i] = p
	}

	if err := s.gather(ctx, plans); err != nil {
		return nil, err
	}
	s.fallback(ctx, plans)

	return s.finish(ctx, plans), nil
}

// snapshot reads the rollout state once per request.
func (s *Service) snapshot(ctx context.Context) model.CanaryState {
	if state, ok := canary.StateFromContext(ctx); ok {
		return state
	}
	if s.canary != nil {
		return s.canary.State()
	}
	return model.CanaryState{}
}

// gather asks each engine once for every transaction that needs it.
func (s *Service) gather(ctx context.Context, plans []*plan) error {
	var ruleTxns, modelTxns []model.Transaction
	for _, p := range plans {
		if !p.found {
			continue
		}
		if p.decision.Source == model.SourceRule || p.decision.Shadow {
			ruleTxns = append(ruleTxns, p.txn)
		}
		if p.decision.Source == model.SourceModel || p.decision.Shadow {
			modelTxns = append(modelTxns, p.txn)
		}
	}

	var ruleOut, modelOut map[string]model.Candidates
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ruleOut = s.call(gctx, s.rules, model.SourceRule, ruleTxns)
		return gctx.Err()
	})
	g.Go(func() error {
		modelOut = s.call(gctx, s.model, model.SourceModel, modelTxns)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range plans {
		ruleList := ruleOut[p.txn.ID]
		modelList := modelOut[p.txn.ID]
		if p.decision.Source == model.SourceModel {
			p.routed, p.other = modelList, ruleList
		} else {
			p.routed, p.other = ruleList, modelList
		}
	}
	return nil
}

// fallback serves the other engine when the routed one produced nothing.
func (s *Service) fallback(ctx context.Context, plans []*plan) {
	needs := map[model.SuggestionSource][]*plan{}
	for _, p := range plans {
		if !p.found || len(p.routed) > 0 {
			continue
		}
		if len(p.other) > 0 {
			p.routed, p.other = p.other, nil
			p.decision.Source = otherSource(p.decision.Source)
			continue
		}
		if !p.decision.Shadow {
			needs[otherSource(p.decision.Source)] = append(needs[otherSource(p.decision.Source)], p)
		}
	}

	for source, waiting := range needs {
		engine := s.rules
		if source == model.SourceModel {
			engine = s.model
		}
		txns := make([]model.Transaction, len(waiting))
		for i, p := range waiting {
			txns[i] = p.txn
		}
		out := s.call(ctx, engine, source, txns)
		for _, p := range waiting {
			if list := out[p.txn.ID]; len(list) > 0 {
				p.routed = list
				p.decision.Source = source
			}
		}
	}

	for _, p := range plans {
		if p.found && len(p.routed) == 0 {
			common.LogWarn(ctx, common.ErrRoutingMisconfiguration, "No engine produced candidates", common.Fields{
				"transaction_id": p.txn.ID,
				"routed":         string(p.decision.Source),
			})
		}
	}
}

// call invokes one engine, logging and swallowing its failure.
func (s *Service) call(ctx context.Context, engine Engine, source model.SuggestionSource, txns []model.Transaction) map[string]model.Candidates {
	if engine == nil || len(txns) == 0 {
		return nil
	}

	out, err := engine.Suggest(ctx, txns)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		s.metrics.EngineError(source)
		slog.Warn("Suggestion engine failed",
			"source", source,
			"transactions", len(txns),
			"error", err)
		return nil
	}

	merchants := make(map[string]string, len(txns))
	for i := range txns {
		merchants[txns[i].ID] = txns[i].Merchant()
	}
	for id, list := range out {
		out[id] = normalize(list, source, merchants[id])
	}
	return out
}

// finish scores every list in one batch, logs, and builds results.
func (s *Service) finish(ctx context.Context, plans []*plan) []model.SuggestionResult {
	items := make([]scoring.Item, 0, len(plans)*2)
	for _, p := range plans {
		items = append(items, scoring.Item{TransactionID: p.txn.ID, Candidates: p.routed})
	}
	for _, p := range plans {
		if shadowed(p) {
			items = append(items, scoring.Item{TransactionID: p.txn.ID, Candidates: p.other})
		}
	}
	scored, _ := s.scorer.Score(ctx, items)

	results := make([]model.SuggestionResult, len(plans))
	var records []model.SuggestionRecord
	for i, p := range plans {
		res, rec := s.result(p, scored[i])
		results[i] = res
		if rec != nil {
			records = append(records, *rec)
		}
	}

	var comparisons []model.ShadowComparison
	next := len(plans)
	for i, p := range plans {
		if !shadowed(p) {
			continue
		}
		comparisons = append(comparisons, shadowComparison(p, scored[i], scored[next]))
		next++
	}

	if err := s.store.SaveSuggestions(ctx, records); err != nil {
		common.LogError(ctx, err, "Failed to log suggestions", common.Fields{"count": len(records)})
	}
	if len(comparisons) > 0 {
		for i := range comparisons {
			s.metrics.ShadowCompared(comparisons[i].Agreed())
		}
		if err := s.store.SaveShadowComparisons(ctx, comparisons); err != nil {
			common.LogError(ctx, err, "Failed to log shadow comparisons", common.Fields{"count": len(comparisons)})
		}
	}
	return results
}

func (s *Service) result(p *plan, scored scoring.Result) (model.SuggestionResult, *model.SuggestionRecord) {
	res := model.SuggestionResult{TransactionID: p.txn.ID, Source: p.decision.Source}

	switch {
	case !p.found:
		res.AskAgent = true
		res.Reasoning = "transaction not found"
		return res, nil
	case scored.Top == nil:
		res.AskAgent = true
		res.Reasoning = "no candidates"
		s.metrics.AskAgent(p.decision.Source)
		return res, nil
	case scored.AskAgent:
		res.AskAgent = true
		res.Reasoning = fmt.Sprintf("top candidate %s at %.2f is below %.2f",
			scored.Top.Category, scored.Top.AdjustedScore, s.scorer.Threshold())
		s.metrics.AskAgent(p.decision.Source)
		return res, nil
	}

	top := scored.Top
	res.SuggestionID = uuid.NewString()
	res.Category = top.Category
	res.Confidence = top.AdjustedScore
	res.Source = top.Source
	res.ModelVersion = top.ModelVersion
	res.Reasoning = top.Reason
	s.metrics.Shown(res.Source)

	return res, &model.SuggestionRecord{
		ID:            res.SuggestionID,
		TransactionID: res.TransactionID,
		Merchant:      p.txn.Merchant(),
		Category:      res.Category,
		ModelVersion:  res.ModelVersion,
		Source:        res.Source,
		Confidence:    res.Confidence,
	}
}

// shadowed reports whether p gets a shadow comparison. Unknown transactions never do.
func shadowed(p *plan) bool {
	return p.found && p.decision.Shadow
}

func shadowComparison(p *plan, routed, other scoring.Result) model.ShadowComparison {
	c := model.ShadowComparison{TransactionID: p.txn.ID, Routed: p.decision.Source}
	ruleTop, modelTop := routed.Top, other.Top
	if p.decision.Source == model.SourceModel {
		ruleTop, modelTop = other.Top, routed.Top
	}
	if ruleTop != nil {
		c.RuleCategory, c.RuleScore = ruleTop.Category, ruleTop.AdjustedScore
	}
	if modelTop != nil {
		c.ModelCategory, c.ModelScore = modelTop.Category, modelTop.AdjustedScore
	}
	return c
}

// normalize fills fields engines may leave empty and drops invalid candidates.
func normalize(list model.Candidates, source model.SuggestionSource, merchant string) model.Candidates {
	out := make(model.Candidates, 0, len(list))
	for _, c := range list {
		if c.Source == "" {
			c.Source = source
		}
		if c.MerchantNormalized == "" {
			c.MerchantNormalized = merchant
		}
		if err := c.Validate(); err != nil {
			slog.Debug("Dropping invalid candidate", "source", source, "category", c.Category, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

func otherSource(s model.SuggestionSource) model.SuggestionSource {
	if s == model.SourceModel {
		return model.SourceRule
	}
	return model.SourceModel
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

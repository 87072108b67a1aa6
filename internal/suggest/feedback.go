package suggest

import (
	"context"
	"errors"
	"strings"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// FeedbackRequest is a user's accept or reject of a category for a transaction.
// SuggestionID, Merchant and Score are optional; when absent they are resolved from
// the suggestion log and the transaction store.
type FeedbackRequest struct {
	TransactionID string
	SuggestionID  string
	UserID        string
	Merchant      string
	Category      string
	ModelVersion  string
	Action        model.FeedbackAction
	Source        model.SuggestionSource
	Score         *float64
}

// Validate rejects malformed feedback payloads.
func (r *FeedbackRequest) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return common.Validationf("transaction ID is required")
	}
	if strings.TrimSpace(r.Category) == "" {
		return common.Validationf("category is required")
	}
	if !r.Action.IsValid() {
		return common.Validationf("action must be accept or reject, got %q", r.Action)
	}
	if r.Source != "" && !r.Source.IsValid() {
		return common.Validationf("unknown source %q", r.Source)
	}
	if r.Score != nil && (*r.Score < 0 || *r.Score > 1) {
		return common.Validationf("score %.2f outside [0,1]", *r.Score)
	}
	return nil
}

// RecordFeedback validates req, resolves its suggestion and merchant, and records it in
// the background. Only validation failures are returned, including an unknown
// transaction when no merchant was given; storage failures are logged and counted.
func (s *Service) RecordFeedback(ctx context.Context, req FeedbackRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	suggestion := s.lookupSuggestion(ctx, req)
	if suggestion != nil && suggestion.Category != req.Category {
		// Feedback is about a different category than the one suggested.
		suggestion = nil
	}
	req = withSuggestion(req, suggestion)

	if req.Merchant == "" {
		merchant, err := s.lookupMerchant(ctx, req.TransactionID)
		switch {
		case errors.Is(err, common.ErrValidation):
			return err
		case err != nil:
			// Resolved again in the background once storage recovers.
			common.LogWarn(ctx, err, "Merchant lookup failed", common.Fields{"transaction_id": req.TransactionID})
		default:
			req.Merchant = merchant
		}
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.feedbackTimeout)
		defer cancel()

		if err := s.recordFeedback(bg, req, suggestion); err != nil {
			s.metrics.FeedbackFailed()
			common.LogError(bg, err, "Failed to record feedback", common.Fields{
				"transaction_id": req.TransactionID,
				"category":       req.Category,
				"action":         string(req.Action),
			})
		}
	}()
	return nil
}

// Wait blocks until all background feedback writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Close drains background work.
func (s *Service) Close() error {
	s.Wait()
	return nil
}

// withSuggestion fills fields the caller left empty from the suggestion that was shown.
func withSuggestion(req FeedbackRequest, suggestion *model.SuggestionRecord) FeedbackRequest {
	if suggestion == nil {
		return req
	}
	if req.Source == "" {
		req.Source = suggestion.Source
	}
	if req.ModelVersion == "" {
		req.ModelVersion = suggestion.ModelVersion
	}
	if req.Merchant == "" {
		req.Merchant = suggestion.Merchant
	}
	if req.Score == nil {
		score := suggestion.Confidence
		req.Score = &score
	}
	return req
}

func (s *Service) recordFeedback(ctx context.Context, req FeedbackRequest, suggestion *model.SuggestionRecord) error {
	if req.Merchant == "" {
		merchant, err := s.lookupMerchant(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		req.Merchant = merchant
	}

	event := &model.FeedbackEvent{
		TransactionID:      req.TransactionID,
		UserID:             req.UserID,
		MerchantNormalized: req.Merchant,
		Category:           req.Category,
		Action:             req.Action,
		ModelVersion:       req.ModelVersion,
		Source:             req.Source,
	}
	if req.Score != nil {
		event.Score = *req.Score
	}

	switch {
	case req.Action == model.ActionAccept && suggestion != nil:
		recorded, err := s.store.RecordAcceptedEvent(ctx, suggestion.ID, event)
		if err != nil {
			return err
		}
		if !recorded {
			common.LogDebug(ctx, "Duplicate accept ignored", common.Fields{
				"suggestion_id":  suggestion.ID,
				"transaction_id": req.TransactionID,
			})
			return nil
		}
		s.metrics.Accepted(req.Source)
	default:
		if err := s.store.RecordEvent(ctx, event); err != nil {
			return err
		}
		if req.Action == model.ActionReject {
			s.metrics.Rejected(req.Source)
		}
	}

	if s.promoter != nil && req.Action == model.ActionAccept {
		if _, err := s.promoter.PromoteMerchant(ctx, req.Merchant); err != nil {
			common.LogWarn(ctx, err, "Hint promotion after feedback failed", common.Fields{"merchant": req.Merchant})
		}
	}
	return nil
}

func (s *Service) lookupSuggestion(ctx context.Context, req FeedbackRequest) *model.SuggestionRecord {
	var (
		rec *model.SuggestionRecord
		err error
	)
	if req.SuggestionID != "" {
		rec, err = s.store.GetSuggestion(ctx, req.SuggestionID)
	} else {
		rec, err = s.store.LatestSuggestionForTransaction(ctx, req.TransactionID)
	}
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			common.LogWarn(ctx, err, "Suggestion lookup failed", common.Fields{"transaction_id": req.TransactionID})
		}
		return nil
	}
	if rec.TransactionID != req.TransactionID {
		return nil
	}
	return rec
}

func (s *Service) lookupMerchant(ctx context.Context, transactionID string) (string, error) {
	txns, err := s.store.GetTransactionsByIDs(ctx, []string{transactionID})
	if err != nil {
		return "", err
	}
	txn, ok := txns[transactionID]
	if !ok {
		return "", common.Validationf("unknown transaction %q and no merchant given", transactionID)
	}
	return txn.Merchant(), nil
}

// Package canary routes traffic between the rule and model engines and
// manages the operator-driven rollout of the model engine.
package canary

import (
	"context"
	"hash/fnv"

	"github.com/Veraticus/spice-feedback/internal/model"
)

// Buckets is the size of the routing bucket space.
const Buckets = 100

// Bucket maps an entity ID onto [0, Buckets) with FNV-1a.
func Bucket(entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % Buckets)
}

// Decide routes entityID against a fixed state. The result depends only on
// the entity ID and the state's percentage and shadow flag.
func Decide(state model.CanaryState, entityID string) model.RoutingDecision {
	bucket := Bucket(entityID)
	source := model.SourceRule
	if bucket < state.Percentage {
		source = model.SourceModel
	}
	return model.RoutingDecision{
		Source: source,
		Bucket: bucket,
		Shadow: state.Shadow,
	}
}

type stateKey struct{}

// WithState returns a context carrying a rollout state snapshot.
func WithState(ctx context.Context, state model.CanaryState) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFromContext returns the snapshot stored by WithState.
func StateFromContext(ctx context.Context) (model.CanaryState, bool) {
	state, ok := ctx.Value(stateKey{}).(model.CanaryState)
	return state, ok
}

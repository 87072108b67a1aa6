package canary

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
)

// Stages are the rollout percentages an operator may advance through.
var Stages = []int{0, 10, 50, 100}

// IsStage reports whether pct is one of Stages.
func IsStage(pct int) bool {
	for _, s := range Stages {
		if s == pct {
			return true
		}
	}
	return false
}

// StageFor returns the highest stage not above pct.
func StageFor(pct int) int {
	stage := Stages[0]
	for _, s := range Stages {
		if s <= pct {
			stage = s
		}
	}
	return stage
}

// NextStage returns the stage after pct's stage, or false at full rollout.
func NextStage(pct int) (int, bool) {
	for _, s := range Stages {
		if s > pct {
			return s, true
		}
	}
	return 0, false
}

// ValidatePercentage rejects percentages outside [0, 100].
func ValidatePercentage(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: rollout percentage %d outside [0,100]", common.ErrRoutingMisconfiguration, pct)
	}
	return nil
}

// GateCriteria bounds how far the model source may deviate before a forward transition.
type GateCriteria struct {
	MaxAcceptRateDrop float64       `mapstructure:"max_accept_rate_drop"`
	MaxErrorRate      float64       `mapstructure:"max_error_rate"`
	MaxP95Latency     time.Duration `mapstructure:"max_p95_latency"`
	MinSamples        int           `mapstructure:"min_samples"`
}

// DefaultGateCriteria returns the default forward-transition gate.
func DefaultGateCriteria() GateCriteria {
	return GateCriteria{
		MaxAcceptRateDrop: 0.05,
		MaxErrorRate:      0.02,
		MaxP95Latency:     500 * time.Millisecond,
		MinSamples:        20,
	}
}

// GateReport carries the externally observed metrics for the current stage.
// At stage 0 the model serves no traffic, so accept-rate checks are skipped.
type GateReport struct {
	Stage           int
	RuleAcceptRate  float64
	ModelAcceptRate float64
	ErrorRate       float64
	P95Latency      time.Duration
	ModelSamples    int
}

// Check returns nil when the report satisfies c, otherwise an error listing every violation.
func (c GateCriteria) Check(r GateReport) error {
	var violations []string
	if r.Stage > 0 {
		if r.ModelSamples < c.MinSamples {
			violations = append(violations, fmt.Sprintf("only %d model samples (need %d)", r.ModelSamples, c.MinSamples))
		} else if drop := r.RuleAcceptRate - r.ModelAcceptRate; drop > c.MaxAcceptRateDrop {
			violations = append(violations, fmt.Sprintf("accept rate dropped %.3f (max %.3f)", drop, c.MaxAcceptRateDrop))
		}
	}
	if r.ErrorRate > c.MaxErrorRate {
		violations = append(violations, fmt.Sprintf("error rate %.3f above %.3f", r.ErrorRate, c.MaxErrorRate))
	}
	if c.MaxP95Latency > 0 && r.P95Latency > c.MaxP95Latency {
		violations = append(violations, fmt.Sprintf("p95 latency %s above %s", r.P95Latency, c.MaxP95Latency))
	}
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrGateFailed, strings.Join(violations, "; "))
}

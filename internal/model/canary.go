package model

import "time"

// CanaryState is the operator-controlled rollout configuration.
// A value is never mutated once published; changes produce a new version.
type CanaryState struct {
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	Percentage int       `json:"percentage" yaml:"percentage"`
	Version    int       `json:"version" yaml:"version"`
	Shadow     bool      `json:"shadow" yaml:"shadow"`
}

// RoutingDecision is the router's answer for one entity.
type RoutingDecision struct {
	Source SuggestionSource
	Bucket int
	Shadow bool
}

// CanaryTransition is one entry of the rollout audit trail.
type CanaryTransition struct {
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	Reason         string    `json:"reason" yaml:"reason"`
	FromPercentage int       `json:"from" yaml:"from"`
	ToPercentage   int       `json:"to" yaml:"to"`
	Version        int       `json:"version" yaml:"version"`
	Shadow         bool      `json:"shadow" yaml:"shadow"`
}

package actions

import (
	"context"
	"time"
)

// Action represents a long-running part of the process run by the agent
type Action interface {
	// Name returns the unique identifier for this action
	Name() string
	// Execute runs the action until ctx is cancelled or Stop is called
	Execute(ctx context.Context) error
	// Stop cleanly stops the action
	Stop()
}

// ActionConfig holds common configuration for periodic actions
type ActionConfig struct {
	Name     string
	Interval time.Duration
}

package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/actions"
)

// Agent runs the process's long-lived actions (HTTP API, bot, health
// monitor) side by side.
type Agent struct {
	logger  *logrus.Logger
	actions map[string]actions.Action
	mu      sync.RWMutex
}

type Config struct {
	Logger *logrus.Logger
}

func New(config Config) (*Agent, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Agent{
		logger:  config.Logger,
		actions: make(map[string]actions.Action),
	}, nil
}

// RegisterAction adds a new action to the agent
func (a *Agent) RegisterAction(action actions.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := action.Name()
	if _, exists := a.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}

	a.actions[name] = action
	return nil
}

// Run starts all registered actions and blocks until ctx is cancelled or
// one action fails. Either way every action is stopped and Run returns
// only after all of them have exited.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.RLock()
	registered := make(map[string]actions.Action, len(a.actions))
	for name, action := range a.actions {
		registered[name] = action
	}
	a.mu.RUnlock()

	if len(registered) == 0 {
		return fmt.Errorf("no actions registered")
	}

	a.logger.WithField("actions", len(registered)).Info("Agent starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, len(registered))

	var wg sync.WaitGroup
	for name, action := range registered {
		wg.Add(1)
		go func(name string, action actions.Action) {
			defer wg.Done()

			a.logger.WithField("action", name).Info("Starting action")
			if err := action.Execute(ctx); err != nil && ctx.Err() == nil {
				a.logger.WithError(err).WithField("action", name).Error("Action failed")
				failed <- fmt.Errorf("action %s failed: %w", name, err)
			}
		}(name, action)
	}

	var result error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		result = ctx.Err()
	case err := <-failed:
		a.logger.WithError(err).Error("Shutting down after action failure")
		result = err
	}

	cancel()
	a.stopAll(registered)
	wg.Wait()
	return result
}

func (a *Agent) stopAll(registered map[string]actions.Action) {
	for name, action := range registered {
		a.logger.WithField("action", name).Info("Stopping action")
		action.Stop()
	}
}

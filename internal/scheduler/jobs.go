package scheduler

import (
	"context"
)

// SessionSweeper is implemented by the gateway session server.
type SessionSweeper interface {
	SweepExpiredSessions() int
}

// SessionSweepJob removes gateway sessions idle past their timeout.
// The sweep is the only way sessions die besides process shutdown.
type SessionSweepJob struct {
	Sweeper SessionSweeper
}

func (j *SessionSweepJob) Name() string { return "session_sweep" }

func (j *SessionSweepJob) Run(_ context.Context) error {
	j.Sweeper.SweepExpiredSessions()
	return nil
}

// PolicyLoader is implemented by the policy engine.
type PolicyLoader interface {
	Load(ctx context.Context) error
}

// PolicyReloadJob refreshes the policy engine's in-memory snapshot so
// administrative policy edits take effect without a restart.
type PolicyReloadJob struct {
	Engine PolicyLoader
}

func (j *PolicyReloadJob) Name() string { return "policy_reload" }

func (j *PolicyReloadJob) Run(ctx context.Context) error {
	return j.Engine.Load(ctx)
}

// Package session owns the agent set and drives decision rounds on a
// schedule. Agents progress independently; one agent's failure or timeout
// never blocks another's round.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/snapshot"
	"agent-trading-floor/internal/trace"
	"agent-trading-floor/internal/types"
)

// Coordinator runs rounds for every agent on a fixed interval until stopped.
type Coordinator struct {
	agents     []types.AgentSpec
	rounder    interfaces.Rounder
	store      *account.Store
	snaps      *snapshot.Engine
	notifier   interfaces.Notifier
	interval   time.Duration
	resolution time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewCoordinator(agents []types.AgentSpec, rounder interfaces.Rounder, store *account.Store, snaps *snapshot.Engine, notifier interfaces.Notifier, interval, resolution time.Duration) *Coordinator {
	return &Coordinator{
		agents:     agents,
		rounder:    rounder,
		store:      store,
		snaps:      snaps,
		notifier:   notifier,
		interval:   interval,
		resolution: resolution,
		stopCh:     make(chan struct{}),
	}
}

// Start opens every agent's account and snapshot series. Must be called
// before Run.
func (c *Coordinator) Start(ctx context.Context) error {
	for _, a := range c.agents {
		if err := c.store.Open(ctx, a.Name); err != nil {
			return fmt.Errorf("open account %s: %w", a.Name, err)
		}
		if err := c.snaps.Open(a.Name); err != nil {
			return fmt.Errorf("open snapshots %s: %w", a.Name, err)
		}
	}
	logger.Info(ctx, "Session started", "agents", len(c.agents), "interval", c.interval.String())
	return nil
}

// Run blocks, executing one cycle immediately and then one per interval.
// Stop drains gracefully: the in-flight cycle finishes and no new cycle is
// admitted. Cancelling ctx aborts mid-cycle; committed transactions stand
// and affected rounds are marked incomplete.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-c.stopCh:
			logger.Info(ctx, "Session drained, shutting down")
			return nil
		case <-ctx.Done():
			logger.Warn(ctx, "Session cancelled mid-flight")
			return ctx.Err()
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// Stop initiates a graceful drain. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// TriggerOnce runs a single cycle outside the schedule.
func (c *Coordinator) TriggerOnce(ctx context.Context) {
	c.runCycle(ctx)
}

// runCycle fans one round per agent out to its own goroutine and waits for
// all of them. Errors are collected for logging only; they never cancel
// sibling rounds.
func (c *Coordinator) runCycle(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "session.Cycle")
	defer span.End()

	var g errgroup.Group
	for _, agent := range c.agents {
		agent := agent
		g.Go(func() error {
			result, err := c.rounder.RunRound(ctx, agent)
			if err != nil {
				logger.ErrorWithErr(ctx, "Round failed", err, "agent", agent.Name)
				return err
			}
			if result.TimedOut {
				logger.Warn(ctx, "Round timed out, no action taken", "agent", agent.Name, "round_id", result.RoundID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "Cycle finished with at least one failed round", "error", err)
	}

	c.notifyCycle(ctx)
}

// notifyCycle pushes a one-line valuation summary after each cycle.
func (c *Coordinator) notifyCycle(ctx context.Context) {
	summary := ""
	for _, a := range c.agents {
		series := c.snaps.Series(a.Name)
		if len(series) == 0 {
			continue
		}
		if summary != "" {
			summary += ", "
		}
		summary += fmt.Sprintf("%s=%s", a.Name, series[len(series)-1].Total.String())
	}
	if summary != "" {
		c.notifier.Send(ctx, "cycle complete: "+summary, "info")
	}
}

// AgentState is the read-only view of one agent for the session control
// surface and the excluded dashboard layer. Candles fold the full snapshot
// series at the configured resolution.
type AgentState struct {
	Agent    types.AgentSpec       `json:"agent"`
	Account  types.AccountSnapshot `json:"account"`
	Latest   *types.Snapshot       `json:"latest,omitempty"`
	Snapshot int                   `json:"snapshot_count"`
	Candles  []types.Candle        `json:"candles,omitempty"`
}

// State returns a consistent read-only view of every agent. It never
// blocks a mutation for longer than one account copy.
func (c *Coordinator) State() ([]AgentState, error) {
	out := make([]AgentState, 0, len(c.agents))
	for _, a := range c.agents {
		acct, err := c.store.Get(a.Name)
		if err != nil {
			return nil, err
		}
		st := AgentState{Agent: a, Account: acct}
		if series := c.snaps.Series(a.Name); len(series) > 0 {
			last := series[len(series)-1]
			st.Latest = &last
			st.Snapshot = len(series)
			candles, err := c.snaps.Candles(a.Name, c.resolution, time.Time{}, time.Time{})
			if err != nil {
				return nil, err
			}
			st.Candles = candles
		}
		out = append(out, st)
	}
	return out, nil
}

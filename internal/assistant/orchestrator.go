package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRunExhausted means every attempt at a run failed. The caller decides
// what the user sees; no partial output ever leaks out of here.
var ErrRunExhausted = errors.New("assistant: run attempts exhausted")

// RunClient is the slice of Client the orchestrator drives. Narrowed to
// an interface so tests can script run lifecycles.
type RunClient interface {
	CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// ToolDispatcher resolves one tool call into its serialized output.
// Dispatch never fails at this level: handler errors come back encoded in
// the output payload so the model can react to them.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) string
}

// Result is the outcome of a successful orchestration.
type Result struct {
	Reply    string
	Usage    Usage
	Attempts int
}

// Orchestrator drives an assistant run to completion: it polls status,
// dispatches tool calls when the run blocks, cancels runs that poll too
// long, and retries the whole run a bounded number of times.
type Orchestrator struct {
	client       RunClient
	tools        ToolDispatcher
	pollInterval time.Duration
	retryBackoff time.Duration
	maxPolls     int
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration) error
}

// OrchestratorOptions carries the run lifecycle tuning knobs.
type OrchestratorOptions struct {
	PollInterval time.Duration
	RetryBackoff time.Duration
	MaxPolls     int
	MaxAttempts  int
}

// NewOrchestrator wires an orchestrator over a run client and a tool
// dispatcher.
func NewOrchestrator(client RunClient, tools ToolDispatcher, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		client:       client,
		tools:        tools,
		pollInterval: opts.PollInterval,
		retryBackoff: opts.RetryBackoff,
		maxPolls:     opts.MaxPolls,
		maxAttempts:  opts.MaxAttempts,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the assistant on the thread and returns the newest
// assistant message once a run completes. Each attempt is a fresh run;
// a failed attempt waits out the backoff before the next one. After the
// final failed attempt Execute returns ErrRunExhausted.
func (o *Orchestrator) Execute(ctx context.Context, threadID, assistantID, additionalInstructions string) (*Result, error) {
	log := slog.With("thread", threadID, "assistant", assistantID)

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		reply, usage, err := o.runOnce(ctx, log, threadID, assistantID, additionalInstructions)
		if err == nil {
			if attempt > 1 {
				log.Info("run succeeded after retry", "attempt", attempt)
			}
			return &Result{Reply: reply, Usage: usage, Attempts: attempt}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Warn("run attempt failed", "attempt", attempt, "error", err)
		if attempt < o.maxAttempts {
			if serr := o.sleep(ctx, o.retryBackoff); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, ErrRunExhausted
}

// runOnce drives a single run from creation to a terminal status.
func (o *Orchestrator) runOnce(ctx context.Context, log *slog.Logger, threadID, assistantID, additionalInstructions string) (string, Usage, error) {
	run, err := o.client.CreateRun(ctx, threadID, assistantID, additionalInstructions)
	if err != nil {
		return "", Usage{}, err
	}
	log.Debug("run created", "run", run.ID)

	polls := 0
	cancelled := false
	for {
		switch run.Status {
		case StatusCompleted:
			reply, err := o.client.LatestAssistantMessage(ctx, threadID)
			if err != nil {
				return "", Usage{}, err
			}
			var usage Usage
			if run.Usage != nil {
				usage = *run.Usage
			}
			return reply, usage, nil

		case StatusRequiresAction:
			run, err = o.submitTools(ctx, log, threadID, run)
			if err != nil {
				return "", Usage{}, err
			}
			continue

		case StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete:
			detail := run.Status
			if run.LastError != nil {
				detail = fmt.Sprintf("%s (%s: %s)", run.Status, run.LastError.Code, run.LastError.Message)
			}
			return "", Usage{}, fmt.Errorf("run %s ended %s", run.ID, detail)
		}

		polls++
		if polls == o.maxPolls && !cancelled {
			// One cancel, then keep polling to a terminal status so the
			// thread is never left with an active run.
			log.Warn("run exceeded poll budget, cancelling", "run", run.ID, "polls", polls)
			if err := o.client.CancelRun(ctx, threadID, run.ID); err != nil {
				log.Warn("run cancel failed", "run", run.ID, "error", err)
			}
			cancelled = true
		}

		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return "", Usage{}, err
		}
		run, err = o.client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return "", Usage{}, err
		}
	}
}

// submitTools dispatches every requested tool call and submits the full
// batch in one shot. A missing output for any call would invalidate the
// whole run, so the dispatcher guarantees one output per call.
func (o *Orchestrator) submitTools(ctx context.Context, log *slog.Logger, threadID string, run *Run) (*Run, error) {
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		log.Info("dispatching tool call", "run", run.ID, "tool", call.Function.Name, "call_id", call.ID)
		outputs = append(outputs, ToolOutput{
			ToolCallID: call.ID,
			Output:     o.tools.Dispatch(ctx, call),
		})
	}
	return o.client.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
}

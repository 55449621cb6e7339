// Package consolidate turns classified pull requests into a validated release
// document by calling an LLM under a fixed retry and repair protocol.
//
// The protocol is a small state machine:
//
//	ATTEMPT(1) -> ATTEMPT(2) -> ... -> ATTEMPT(n) -> REPAIR -> FATAL
//	     \____________\_______________\_____________\______-> SUCCESS
//
// Each attempt validates the reply against the target schema, then tries the
// legacy coercion, and backs off linearly before the next attempt. The repair
// call runs once at temperature 0 with a corrective instruction. Transport
// failures are returned immediately and never retried.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/rlsnotes/internal/llm"
	"github.com/TobiSchelling/rlsnotes/internal/prompt"
	"github.com/TobiSchelling/rlsnotes/internal/schema"
)

const (
	DefaultAttempts    = 3
	DefaultBackoffUnit = 1200 * time.Millisecond
)

// State is a node of the consolidation state machine.
type State int

const (
	StateAttempt State = iota
	StateRepair
	StateSuccess
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateAttempt:
		return "attempt"
	case StateRepair:
		return "repair"
	case StateSuccess:
		return "success"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Options configures a Consolidator.
type Options struct {
	Model             string
	Temperature       float64
	RepairTemperature float64
	MaxTokens         int
	// Attempts is the number of regular calls before the repair call.
	Attempts int
	// BackoffUnit is multiplied by the attempt number to get the wait after a
	// failed attempt.
	BackoffUnit time.Duration
}

// Call records one model call and how its reply was judged.
type Call struct {
	State   State
	Attempt int
	Result  string // "ok", "coerced", "parse_error" or "invalid"
	Err     error
}

// Outcome is the result of a successful consolidation.
type Outcome struct {
	Document *schema.Document
	Shape    schema.Shape
	// Tier is StateAttempt or StateRepair, whichever produced the document.
	Tier    State
	Attempt int
	Calls   []Call
}

// Consolidator drives the model call, validation and repair protocol.
type Consolidator struct {
	provider llm.Provider
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Consolidator. Zero-valued options take their defaults.
func New(provider llm.Provider, opts Options) *Consolidator {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = DefaultBackoffUnit
	}
	return &Consolidator{provider: provider, opts: opts, sleep: sleepContext}
}

// Consolidate builds the prompt for the snapshots and runs the protocol.
// It returns a *llm.InvocationError when the provider fails at the transport
// level and a *schema.ValidationError when even the repair reply is unusable.
func (c *Consolidator) Consolidate(ctx context.Context, snapshots []prompt.Snapshot, w prompt.Window) (*Outcome, error) {
	if c.provider == nil {
		return nil, errors.New("no LLM provider configured")
	}
	userMsg, err := prompt.BuildUserMessage(snapshots, w)
	if err != nil {
		return nil, err
	}
	log.Printf("LLM request prepared: model=%s, user_msg_chars=%d", c.opts.Model, len(userMsg))

	m := &machine{c: c, userMsg: userMsg, state: StateAttempt, attempt: 1}
	return m.run(ctx)
}

// machine holds the state of one consolidation run.
type machine struct {
	c       *Consolidator
	userMsg string
	state   State
	attempt int
	calls   []Call
	outcome *Outcome
	err     error
}

func (m *machine) run(ctx context.Context) (*Outcome, error) {
	for m.state != StateSuccess && m.state != StateFatal {
		var next State
		var err error
		switch m.state {
		case StateAttempt:
			next, err = m.onAttempt(ctx)
		case StateRepair:
			next, err = m.onRepair(ctx)
		default:
			err = fmt.Errorf("unexpected state %s", m.state)
		}
		if err != nil {
			return nil, err
		}
		m.state = next
	}
	if m.state == StateFatal {
		return nil, m.err
	}
	return m.outcome, nil
}

// onAttempt performs ATTEMPT(n).
func (m *machine) onAttempt(ctx context.Context) (State, error) {
	n := m.attempt
	log.Printf("LLM consolidate attempt %d/%d (model=%s)", n, m.c.opts.Attempts, m.c.opts.Model)

	doc, shape, call, err := m.invoke(ctx, StateAttempt, n, m.c.opts.Temperature, m.userMsg)
	if err != nil {
		return StateFatal, err
	}
	m.calls = append(m.calls, call)
	if doc != nil {
		log.Printf("LLM output accepted on attempt %d (%s shape)", n, shape)
		m.succeed(doc, shape, StateAttempt, n)
		return StateSuccess, nil
	}

	log.Printf("LLM output rejected on attempt %d: %v", n, call.Err)
	if err := m.c.sleep(ctx, m.backoff(n)); err != nil {
		return StateFatal, err
	}
	if n >= m.c.opts.Attempts {
		return StateRepair, nil
	}
	m.attempt++
	return StateAttempt, nil
}

// onRepair performs the single REPAIR call.
func (m *machine) onRepair(ctx context.Context) (State, error) {
	log.Printf("LLM repair attempt (strict JSON, temperature=%.1f)", m.c.opts.RepairTemperature)

	doc, shape, call, err := m.invoke(ctx, StateRepair, m.attempt+1, m.c.opts.RepairTemperature, m.userMsg, prompt.RepairInstruction)
	if err != nil {
		return StateFatal, err
	}
	m.calls = append(m.calls, call)
	if doc != nil {
		log.Printf("LLM repair output accepted (%s shape)", shape)
		m.succeed(doc, shape, StateRepair, m.attempt+1)
		return StateSuccess, nil
	}

	log.Printf("LLM repair output rejected: %v", call.Err)
	m.err = fatalError(call.Err)
	return StateFatal, nil
}

// invoke makes one model call and judges the reply. A non-nil error is a
// transport failure; a rejected reply is reported through call.Err.
func (m *machine) invoke(ctx context.Context, state State, n int, temperature float64, messages ...string) (*schema.Document, schema.Shape, Call, error) {
	call := Call{State: state, Attempt: n}
	text, err := m.c.provider.Complete(ctx, llm.Request{
		System:      prompt.System,
		Messages:    messages,
		Model:       m.c.opts.Model,
		Temperature: temperature,
		MaxTokens:   m.c.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		var ierr *llm.InvocationError
		if !errors.As(err, &ierr) {
			err = &llm.InvocationError{Provider: "llm", Err: err}
		}
		return nil, 0, call, err
	}
	log.Printf("LLM raw response chars=%d", len(text))

	raw, err := llm.ParseJSONObject(text)
	if err != nil {
		call.Result, call.Err = "parse_error", err
		return nil, 0, call, nil
	}

	doc, shape, err := schema.Resolve(raw)
	if err != nil {
		call.Result, call.Err = "invalid", err
		return nil, 0, call, nil
	}
	call.Result = "ok"
	if shape == schema.ShapeLegacy {
		call.Result = "coerced"
	}
	return doc, shape, call, nil
}

func (m *machine) succeed(doc *schema.Document, shape schema.Shape, tier State, n int) {
	m.outcome = &Outcome{Document: doc, Shape: shape, Tier: tier, Attempt: n, Calls: m.calls}
}

func (m *machine) backoff(n int) time.Duration {
	return time.Duration(n) * m.c.opts.BackoffUnit
}

// fatalError converts the repair failure into the error surfaced to callers.
func fatalError(err error) error {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	verr = &schema.ValidationError{Reasons: []string{"repair response was not valid JSON"}, Err: err}
	var perr *llm.ParseError
	if errors.As(err, &perr) {
		verr.Document = perr.Text
	}
	return verr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Total returns the number of model calls made.
func (o *Outcome) Total() int {
	return len(o.Calls)
}

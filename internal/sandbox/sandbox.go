// Package sandbox executes tenant automation scripts in an embedded Lua VM
// with capability-scoped bindings.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/config"
	"github.com/botixhq/botix/internal/geo"
	"github.com/botixhq/botix/internal/metrics"
	"github.com/botixhq/botix/internal/store"
)

var (
	// ErrFault means the script failed: load error, runtime error, or a
	// denied capability. The conversation is left untouched.
	ErrFault = errors.New("sandbox: fault")
	// ErrTimeout means the script exceeded its wall-time budget.
	ErrTimeout = errors.New("sandbox: timeout")
)

// Capability grants a script access to one group of host bindings.
type Capability string

const (
	CapSend         Capability = "send"
	CapContactRead  Capability = "contact:read"
	CapContactWrite Capability = "contact:write"
	CapState        Capability = "state"
	CapAssign       Capability = "assign"
	CapGeocode      Capability = "geocode"
	CapReenter      Capability = "reenter"
)

// Host is what scripts can reach outside the VM. Sends run immediately;
// state and assignment changes are staged in the Outcome instead.
type Host interface {
	SendMessage(ctx context.Context, conversationID string, msg channel.OutboundMessage) error
	GetContact(ctx context.Context, contactID string) (store.Contact, error)
	CreateContact(ctx context.Context, conversationID, address, name string) (store.Contact, error)
	UpdateContact(ctx context.Context, contactID, name string, metadata map[string]string) error
	Geocode(ctx context.Context, address string) (geo.Place, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (geo.Place, error)
	Reenter(ctx context.Context, conversationID, body string) error
}

// Event is the read-only context a script sees.
type Event struct {
	ConversationID string
	ContactID      string
	ContactName    string
	Address        string
	Kind           string
	Body           string
	State          string
	Latitude       *float64
	Longitude      *float64
}

// Outcome carries the mutations a script staged. The caller applies them
// only when the script finished without a fault, so a throwing script never
// moves the conversation.
type Outcome struct {
	NextState    string
	StateSet     bool
	AssignUserID string
	AssignSet    bool
}

type Runner struct {
	host      Host
	timeout   time.Duration
	maxSource int
	slots     chan struct{}
	logger    *slog.Logger
}

func NewRunner(log *slog.Logger, cfg config.SandboxConfig, host Host) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		host:      host,
		timeout:   cfg.Timeout(),
		maxSource: cfg.MaxSourceBytes,
		slots:     make(chan struct{}, workers),
		logger:    log.With(slog.String("service", "sandbox")),
	}
}

// Run executes the script against the event and returns its staged outcome.
// Execution is bounded by the worker pool and the configured wall-time
// budget.
func (r *Runner) Run(ctx context.Context, script store.AutomationScript, ev Event) (Outcome, error) {
	if r.maxSource > 0 && len(script.Source) > r.maxSource {
		return Outcome{}, fmt.Errorf("%w: source exceeds %d bytes", ErrFault, r.maxSource)
	}

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	outcome, err := r.execute(runCtx, script, ev)
	metrics.SandboxDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.SandboxRuns.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrTimeout):
		metrics.SandboxRuns.WithLabelValues("timeout").Inc()
	default:
		metrics.SandboxRuns.WithLabelValues("fault").Inc()
	}
	return outcome, err
}

type runResult struct {
	outcome Outcome
	err     error
}

// execute runs the VM in its own goroutine so the caller can give up on the
// deadline. Host bindings check the context, so scripts blocked on a host
// call unwind promptly; a pure compute loop keeps its goroutine until the
// VM finishes on its own.
func (r *Runner) execute(ctx context.Context, script store.AutomationScript, ev Event) (Outcome, error) {
	done := make(chan runResult, 1)
	go func() {
		var out Outcome
		err := r.runVM(ctx, script, ev, &out)
		done <- runResult{outcome: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Outcome{}, res.err
		}
		return res.outcome, nil
	case <-ctx.Done():
		r.logger.Warn("script timed out",
			slog.String("script", script.Name),
			slog.String("tenant_id", script.TenantID))
		return Outcome{}, fmt.Errorf("script %s: %w", script.Name, ErrTimeout)
	}
}

func (r *Runner) runVM(ctx context.Context, script store.AutomationScript, ev Event, out *Outcome) error {
	l := lua.NewState()
	// Only the pure libraries; no os, io or load.
	lua.Require(l, "_G", lua.BaseOpen, true)
	lua.Require(l, "string", lua.StringOpen, true)
	lua.Require(l, "table", lua.TableOpen, true)
	lua.Require(l, "math", lua.MathOpen, true)
	l.SetTop(0)

	grants := make(map[Capability]struct{}, len(script.Capabilities))
	for _, c := range script.Capabilities {
		grants[Capability(c)] = struct{}{}
	}

	b := &binding{
		runner:  r,
		ctx:     ctx,
		event:   ev,
		grants:  grants,
		outcome: out,
	}
	b.register(l)

	if err := lua.LoadString(l, script.Source); err != nil {
		return fmt.Errorf("%w: load: %v", ErrFault, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("script %s: %w", script.Name, ErrTimeout)
		}
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return nil
}

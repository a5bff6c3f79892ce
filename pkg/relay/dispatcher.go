package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher routes inbound events to the command surface or the
// orchestrator. Every event runs on its own goroutine so the caller (a
// platform gateway loop or the event bus consumer) is never blocked by a
// generation call.
type Dispatcher struct {
	orch      *Orchestrator
	commands  *Commands
	mu        sync.RWMutex
	platforms map[string]ReplierFactory
	closed    bool
	wg        sync.WaitGroup
	log       zerolog.Logger

	// onDone is called after each flow; tests use it to observe outcomes.
	onDone func(Event, Outcome)
}

func NewDispatcher(orch *Orchestrator, commands *Commands, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		orch:      orch,
		commands:  commands,
		platforms: map[string]ReplierFactory{},
		log:       logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Register(platform string, f ReplierFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.platforms[platform] = f
}

// Dispatch starts handling ev and returns immediately. Events arriving after
// Close are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Str("platform", ev.Platform).Str("event_id", ev.ID).Msg("dispatcher closed, dropping event")
		return
	}
	f, ok := d.platforms[ev.Platform]
	if !ok {
		d.log.Error().Str("platform", ev.Platform).Str("event_id", ev.ID).Msg("no replier registered for platform, dropping event")
		return
	}
	r, err := f.Replier(ev)
	if err != nil {
		d.log.Error().Err(err).Str("platform", ev.Platform).Str("event_id", ev.ID).Msg("resolving reply channel failed, dropping event")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.log.Error().Interface("panic", p).Str("event_id", ev.ID).Msg("event flow panicked")
			}
		}()
		out := Route(ctx, d.commands, d.orch, ev, r)
		if d.onDone != nil {
			d.onDone(ev, out)
		}
	}()
}

// Route handles one event synchronously: commands first, then the
// orchestrator. commands may be nil.
func Route(ctx context.Context, commands *Commands, orch *Orchestrator, ev Event, r Replier) Outcome {
	if commands != nil && commands.Handle(ctx, ev, r) {
		var out Outcome
		out.enter(StateReceived)
		out.enter(StateDone)
		return out
	}
	return orch.Handle(ctx, ev, r)
}

// Close stops accepting events. Flows already dispatched keep running; use
// Wait to block until they finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Wait blocks until all dispatched flows have finished. Call Close first so
// no new flow starts while waiting.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

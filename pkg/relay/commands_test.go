package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docsrelay/pkg/history"
)

func TestParseCommand(t *testing.T) {
	name, ok := ParseCommand("  !ClearHistory  ", "!")
	require.True(t, ok)
	require.Equal(t, CommandClearHistory, name)

	_, ok = ParseCommand("help", "!")
	require.False(t, ok)
	_, ok = ParseCommand("!", "!")
	require.False(t, ok)
	_, ok = ParseCommand("!help", "")
	require.False(t, ok)
}

func TestCommands_ClearHistory(t *testing.T) {
	ctx := context.Background()
	store := history.NewStore(history.NewMemoryBackend(), zerolog.Nop())
	store.Append(ctx, "u1", "q", "a")
	c := NewCommands("!", store, zerolog.Nop())
	r := &fakeReplier{}

	require.True(t, c.Handle(ctx, Event{Platform: "discord", SessionKey: "u1", Text: "!clearhistory"}, r))
	require.Equal(t, []string{"Your message history has been cleared."}, r.messages())
	require.Empty(t, store.Fetch(ctx, "u1", 5))
}

func TestCommands_ClearHistoryFailure(t *testing.T) {
	c := NewCommands("!", history.NewStore(failingBackend{}, zerolog.Nop()), zerolog.Nop())
	r := &fakeReplier{}

	require.True(t, c.Handle(context.Background(), Event{SessionKey: "u1", Text: "!clearhistory"}, r))
	require.Equal(t, []string{"Sorry, I couldn't clear your history. Please try again later."}, r.messages())
}

func TestCommands_HelpAndUnknown(t *testing.T) {
	c := NewCommands("", history.NewStore(history.NewMemoryBackend(), zerolog.Nop()), zerolog.Nop())
	r := &fakeReplier{}

	require.True(t, c.Handle(context.Background(), Event{SessionKey: "u1", Text: "!help"}, r))
	require.Equal(t, []string{"Available commands:\n!help - Show this message\n!clearhistory - Clear your message history"}, r.messages())

	require.False(t, c.Handle(context.Background(), Event{SessionKey: "u1", Text: "!refund please"}, r))
	require.False(t, c.Handle(context.Background(), Event{SessionKey: "u1", Text: "how do refunds work"}, r))
	require.Len(t, r.messages(), 1)
}

func TestDispatcher_RoutesAndDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, loadedContext(), func(context.Context, string) (string, error) {
		<-release
		return "slow answer", nil
	}, Config{})
	d := NewDispatcher(f.orch, NewCommands("!", f.store, zerolog.Nop()), zerolog.Nop())

	var mu sync.Mutex
	outcomes := map[string]Outcome{}
	d.onDone = func(ev Event, out Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[ev.ID] = out
	}

	slow := &fakeReplier{limit: 2000}
	fast := &fakeReplier{limit: 2000}
	d.Register("discord", ReplierFactoryFunc(func(ev Event) (Replier, error) {
		if ev.ID == "slow" {
			return slow, nil
		}
		return fast, nil
	}))

	ctx := context.Background()
	d.Dispatch(ctx, Event{ID: "slow", Platform: "discord", SessionKey: "u1", Text: "question"})
	d.Dispatch(ctx, Event{ID: "cmd", Platform: "discord", SessionKey: "u2", Text: "!help"})
	d.Dispatch(ctx, Event{ID: "nowhere", Platform: "irc", SessionKey: "u3", Text: "hi"})

	require.Eventually(t, func() bool { return len(fast.messages()) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, slow.messages())

	close(release)
	d.Wait()

	require.Equal(t, []string{"slow answer"}, slow.messages())
	require.Equal(t, StateDone, outcomes["slow"].State)
	require.Equal(t, StateDone, outcomes["cmd"].State)
	_, dispatched := outcomes["nowhere"]
	require.False(t, dispatched)
}

func TestDispatcher_ReplierErrorDropsEvent(t *testing.T) {
	f := newFixture(t, loadedContext(), constant("x"), Config{})
	d := NewDispatcher(f.orch, nil, zerolog.Nop())
	d.Register("slack", ReplierFactoryFunc(func(Event) (Replier, error) {
		return nil, errors.New("no channel")
	}))
	d.Dispatch(context.Background(), Event{Platform: "slack", SessionKey: "u1", Text: "hi"})
	d.Wait()
	require.Len(t, f.prompts, 0)
}

func TestRoute_CommandOutcomeCarriesTrace(t *testing.T) {
	f := newFixture(t, loadedContext(), constant("answer"), Config{})
	cmds := NewCommands("!", f.store, zerolog.Nop())
	ctx := context.Background()

	r := &fakeReplier{limit: 2000}
	out := Route(ctx, cmds, f.orch, Event{Platform: "discord", SessionKey: "u1", Text: "!help"}, r)
	require.Equal(t, StateDone, out.State)
	require.Equal(t, []State{StateReceived, StateDone}, out.Trace)
	require.Len(t, f.prompts, 0)

	r = &fakeReplier{limit: 2000}
	out = Route(ctx, nil, f.orch, Event{Platform: "discord", SessionKey: "u1", Text: "!help"}, r)
	require.Equal(t, StateDone, out.State)
	require.Equal(t, StateReceived, out.Trace[0])
	require.Contains(t, out.Trace, StateGenerating)
	require.Equal(t, []string{"answer"}, r.messages())
}

func TestDispatcher_CloseDropsLateEvents(t *testing.T) {
	f := newFixture(t, loadedContext(), constant("answer"), Config{})
	d := NewDispatcher(f.orch, nil, zerolog.Nop())
	r := &fakeReplier{limit: 2000}
	d.Register("discord", ReplierFactoryFunc(func(Event) (Replier, error) { return r, nil }))

	d.Dispatch(context.Background(), Event{ID: "early", Platform: "discord", SessionKey: "u1", Text: "first"})
	d.Close()
	d.Dispatch(context.Background(), Event{ID: "late", Platform: "discord", SessionKey: "u1", Text: "second"})
	d.Wait()

	require.Equal(t, []string{"answer"}, r.messages())
	require.Len(t, f.prompts, 1)
}

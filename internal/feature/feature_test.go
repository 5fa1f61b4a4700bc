package feature

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pipirc/bridge/internal/ircwire"
	"github.com/pipirc/bridge/internal/pipproto"
	"github.com/pipirc/bridge/internal/points"
)

type fakeBot struct {
	said   []string
	points points.Client
}

func (b *fakeBot) StreamName() string                         { return "alice" }
func (b *fakeBot) Say(text string)                            { b.said = append(b.said, text) }
func (b *fakeBot) UseItem(ctx context.Context, h string) error { return nil }
func (b *fakeBot) EquipItem(ctx context.Context, h string) error { return nil }
func (b *fakeBot) Snapshot() pipproto.Snapshot                { return pipproto.Snapshot{} }
func (b *fakeBot) Points() points.Client                      { return b.points }
func (b *fakeBot) Commands() []*Command                       { return nil }

func invoke(bot BotAPI, rank ircwire.SenderRank, args ...string) *Invocation {
	return &Invocation{Ctx: context.Background(), Bot: bot, Sender: "viewer1", Rank: rank, Args: args}
}

func TestDispatchModOnlyRejectsViewer(t *testing.T) {
	bot := &fakeBot{}
	called := false
	cmd := NewCommand(CommandSpec{
		Name: "kill", ModOnly: true, FailMessage: AlwaysReportFailures(),
		Handler: func(inv *Invocation) error { called = true; return nil },
	})
	var reported string
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(msg string) { reported = msg })
	if called {
		t.Fatal("handler should not run for non-mod")
	}
	if reported == "" {
		t.Fatal("expected a rejection message")
	}
}

func TestDispatchModOnlyAllowsMod(t *testing.T) {
	bot := &fakeBot{}
	called := false
	cmd := NewCommand(CommandSpec{
		Name: "kill", ModOnly: true,
		Handler: func(inv *Invocation) error { called = true; return nil },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankMod), func(string) {})
	if !called {
		t.Fatal("handler should run for mod")
	}
}

func TestDispatchCooldownRejectsSecondCall(t *testing.T) {
	bot := &fakeBot{}
	calls := 0
	cmd := NewCommand(CommandSpec{
		Name: "spin", Cooldown: time.Hour, FailMessage: AlwaysReportFailures(),
		Handler: func(inv *Invocation) error { calls++; return nil },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(string) {})
	var reported string
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(msg string) { reported = msg })
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if reported == "" {
		t.Fatal("expected cooldown rejection message")
	}
}

func TestDispatchCooldownDoesNotApplyToMods(t *testing.T) {
	bot := &fakeBot{}
	calls := 0
	cmd := NewCommand(CommandSpec{
		Name: "spin", Cooldown: time.Hour,
		Handler: func(inv *Invocation) error { calls++; return nil },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankMod), func(string) {})
	cmd.Dispatch(invoke(bot, ircwire.RankMod), func(string) {})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (mods bypass cooldown)", calls)
	}
}

func TestDispatchFailMessageRateLimited(t *testing.T) {
	bot := &fakeBot{}
	cmd := NewCommand(CommandSpec{
		Name: "oops", ModOnly: true, FailMessage: RateLimitFailures(3600),
		Handler: func(inv *Invocation) error { return nil },
	})
	count := 0
	report := func(string) { count++ }
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), report)
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), report)
	if count != 1 {
		t.Fatalf("report called %d times, want 1 (rate-limited)", count)
	}
}

func TestDispatchFailMessageNeverSuppressesNonMod(t *testing.T) {
	bot := &fakeBot{}
	cmd := NewCommand(CommandSpec{
		Name: "oops", ModOnly: true, FailMessage: NeverReportFailures(),
		Handler: func(inv *Invocation) error { return nil },
	})
	count := 0
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(string) { count++ })
	if count != 0 {
		t.Fatalf("report called %d times, want 0", count)
	}
}

func TestDispatchWrongArityMessage(t *testing.T) {
	bot := &fakeBot{}
	cmd := NewCommand(CommandSpec{
		Name: "use", FailMessage: AlwaysReportFailures(),
		Handler: func(inv *Invocation) error { return ErrWrongArity },
	})
	var reported string
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(msg string) { reported = msg })
	if reported != "Wrong number of args for command." {
		t.Fatalf("reported = %q", reported)
	}
}

type fakeTicket struct {
	settled, released *bool
}

func (t fakeTicket) Settle(ctx context.Context) error { *t.settled = true; return nil }
func (t fakeTicket) Release(ctx context.Context) error { *t.released = true; return nil }

type fakePointsClient struct {
	fail bool
	ticket fakeTicket
}

func (c *fakePointsClient) Escrow(ctx context.Context, user string, cost int) (points.Ticket, error) {
	if c.fail {
		return nil, context.DeadlineExceeded
	}
	return c.ticket, nil
}

func TestDispatchPointCostSettlesOnSuccess(t *testing.T) {
	settled, released := false, false
	pc := &fakePointsClient{ticket: fakeTicket{settled: &settled, released: &released}}
	bot := &fakeBot{points: pc}
	cmd := NewCommand(CommandSpec{
		Name: "buff", PointCost: 100,
		Handler: func(inv *Invocation) error { return nil },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(string) {})
	if !settled || released {
		t.Fatalf("settled=%v released=%v, want settled only", settled, released)
	}
}

func TestDispatchPointCostReleasesOnHandlerError(t *testing.T) {
	settled, released := false, false
	pc := &fakePointsClient{ticket: fakeTicket{settled: &settled, released: &released}}
	bot := &fakeBot{points: pc}
	cmd := NewCommand(CommandSpec{
		Name: "buff", PointCost: 100, FailMessage: AlwaysReportFailures(),
		Handler: func(inv *Invocation) error { return context.DeadlineExceeded },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(string) {})
	if settled || !released {
		t.Fatalf("settled=%v released=%v, want released only", settled, released)
	}
}

func TestDispatchNoPointsClientIgnoresPointCost(t *testing.T) {
	bot := &fakeBot{} // Points() returns nil
	called := false
	cmd := NewCommand(CommandSpec{
		Name: "buff", PointCost: 100,
		Handler: func(inv *Invocation) error { called = true; return nil },
	})
	cmd.Dispatch(invoke(bot, ircwire.RankViewer), func(string) {})
	if !called {
		t.Fatal("handler should run when no points integration is configured")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	Register("test-only-feature-xyz", func(bot BotAPI, config json.RawMessage) (Feature, error) {
		return nil, nil
	})
	if _, ok := Lookup("test-only-feature-xyz"); !ok {
		t.Fatal("expected registered feature to be found")
	}
	names := Names()
	found := false
	for _, n := range names {
		if n == "test-only-feature-xyz" {
			found = true
		}
	}
	if !found {
		t.Fatal("Names() should include registered feature")
	}
}

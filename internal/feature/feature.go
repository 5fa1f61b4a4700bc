// Package feature implements the declarative feature framework described
// in spec §4.6: a compile-time registration table standing in for the
// original runtime subclass-and-decorator enumeration, plus command
// dispatch with mod_only/sub_only/cooldown/point_cost gating and
// fail_message-rate-limited error reporting.
package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pipirc/bridge/internal/ircwire"
	"github.com/pipirc/bridge/internal/pipproto"
	"github.com/pipirc/bridge/internal/points"
)

// BotAPI is the surface a Feature is allowed to use. internal/bot.Bot
// implements this; features never see the concrete Bot type, which keeps
// this package free of an import cycle back to internal/bot.
type BotAPI interface {
	StreamName() string
	Say(text string)
	UseItem(ctx context.Context, handle string) error
	EquipItem(ctx context.Context, handle string) error
	Snapshot() pipproto.Snapshot
	Points() points.Client
	// Commands returns every command registered across every feature
	// attached to this bot — used by the Help feature to enumerate them.
	Commands() []*Command
}

// ErrWrongArity, when returned by a CommandHandler, is reported verbatim as
// "Wrong number of args for command." per spec §4.6.
var ErrWrongArity = errors.New("wrong number of args for command")

// Invocation is the context passed to a CommandHandler for one dispatch.
type Invocation struct {
	Ctx    context.Context
	Bot    BotAPI
	Sender string
	Rank   ircwire.SenderRank
	Args   []string
}

// Message is one chat line delivered to every feature's OnMessage handler,
// command or not — spec §4.6's "message handlers (on any chat line)".
type Message struct {
	Ctx    context.Context
	Bot    BotAPI
	Sender string
	Rank   ircwire.SenderRank
	Text   string
}

// CommandHandler executes a command's action. Return ErrWrongArity for an
// argument-count mismatch; any other error is reported as its Error() text.
type CommandHandler func(inv *Invocation) error

// FailPolicy governs how often a command's rejection/error is actually
// reported to chat, per spec §4.6's fail_message rule. Mods always see
// errors regardless of policy.
type FailPolicy struct {
	always   bool
	never    bool
	interval time.Duration
}

// AlwaysReportFailures reports every rejection.
func AlwaysReportFailures() FailPolicy { return FailPolicy{always: true} }

// NeverReportFailures suppresses rejection messages for non-mods.
func NeverReportFailures() FailPolicy { return FailPolicy{never: true} }

// RateLimitFailures reports at most once per the given number of seconds.
func RateLimitFailures(seconds int) FailPolicy {
	return FailPolicy{interval: time.Duration(seconds) * time.Second}
}

func (p FailPolicy) allow(lastFailed, now time.Time, isMod bool) bool {
	if isMod || p.always {
		return true
	}
	if p.never {
		return false
	}
	if p.interval <= 0 {
		return true
	}
	return now.Sub(lastFailed) >= p.interval
}

// CommandSpec is a command's declarative configuration (spec §3, "Command":
// config fields mod_only/sub_only/cooldown/point_cost/help/fail_message).
type CommandSpec struct {
	Name        string
	Help        string
	ModOnly     bool
	SubOnly     bool
	Cooldown    time.Duration
	PointCost   int
	FailMessage FailPolicy
	Handler     CommandHandler
}

// Command is a dispatchable command plus its runtime rate-limit state
// (spec §3, "runtime state {last_used, last_failed}").
type Command struct {
	Spec CommandSpec

	mu         sync.Mutex
	lastUsed   time.Time
	lastFailed time.Time
}

// NewCommand constructs a Command from its spec.
func NewCommand(spec CommandSpec) *Command {
	return &Command{Spec: spec}
}

// Dispatch evaluates gating in the order specified by spec §4.6
// (mod_only, sub_only, cooldown, point_cost) and, if every gate passes,
// invokes the handler. report is called with the user-facing error text
// exactly when the fail_message policy allows it for this rejection.
func (c *Command) Dispatch(inv *Invocation, report func(string)) {
	now := time.Now()
	isMod := inv.Rank.AtLeast(ircwire.RankMod)

	reject := func(msg string) {
		c.mu.Lock()
		allowed := c.Spec.FailMessage.allow(c.lastFailed, now, isMod)
		if allowed {
			c.lastFailed = now
		}
		c.mu.Unlock()
		if allowed {
			report(msg)
		}
	}

	if c.Spec.ModOnly && !isMod {
		reject(fmt.Sprintf("%s is mod-only.", c.Spec.Name))
		return
	}
	if c.Spec.SubOnly && !inv.Rank.AtLeast(ircwire.RankSubscriber) {
		reject(fmt.Sprintf("%s is subscriber-only.", c.Spec.Name))
		return
	}
	if c.Spec.Cooldown > 0 && !isMod {
		c.mu.Lock()
		remaining := c.Spec.Cooldown - now.Sub(c.lastUsed)
		c.mu.Unlock()
		if remaining > 0 {
			reject(fmt.Sprintf("%s is on cooldown for %.0fs.", c.Spec.Name, remaining.Seconds()))
			return
		}
	}

	var ticket points.Ticket
	if client := inv.Bot.Points(); client != nil && c.Spec.PointCost > 0 {
		t, err := client.Escrow(inv.Ctx, inv.Sender, c.Spec.PointCost)
		if err != nil {
			reject(fmt.Sprintf("not enough points for %s.", c.Spec.Name))
			return
		}
		ticket = t
	}

	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()

	if err := c.Spec.Handler(inv); err != nil {
		if ticket != nil {
			ticket.Release(inv.Ctx)
		}
		msg := err.Error()
		if errors.Is(err, ErrWrongArity) {
			msg = "Wrong number of args for command."
		}
		reject(msg)
		return
	}
	if ticket != nil {
		ticket.Settle(inv.Ctx)
	}
}

// Base can be embedded by a Feature implementation to default OnMessage,
// OnUpdate, and Stop to no-ops, so a feature only overrides what it uses.
type Base struct{}

func (Base) OnMessage(msg *Message)                     {}
func (Base) OnUpdate(bot BotAPI, snap pipproto.Snapshot) {}
func (Base) Stop()                                       {}

// Feature is one instantiated feature attached to a bot (spec §4.6).
type Feature interface {
	// Commands returns this feature's dispatchable commands, if any.
	Commands() []*Command
	// OnMessage is called on every chat line, command or not.
	OnMessage(msg *Message)
	// OnUpdate is called on every pip snapshot update.
	OnUpdate(bot BotAPI, snap pipproto.Snapshot)
	// Stop releases any resources the feature holds.
	Stop()
}

// Factory constructs a Feature instance bound to bot, given its resolved
// per-stream JSON config.
type Factory func(bot BotAPI, config json.RawMessage) (Feature, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds name to the compile-time feature table. Call from an
// init() in the feature's own file — this is the Go-idiomatic replacement
// for the original runtime subclass enumeration (spec §9 DESIGN NOTES).
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic("feature: duplicate registration for " + name)
	}
	registry[name] = factory
}

// Lookup returns the factory registered for name, if any.
func Lookup(name string) (Factory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns every registered feature name, sorted.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

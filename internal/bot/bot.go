// Package bot implements the Bot Host (spec §4.5): one PippyBot per
// connected pip socket, wrapping a pipproto.Client, instantiating the
// stream's enabled features, and routing chat lines and pip snapshots to
// them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/pipirc/bridge/internal/feature"
	"github.com/pipirc/bridge/internal/ircwire"
	"github.com/pipirc/bridge/internal/pipproto"
	"github.com/pipirc/bridge/internal/points"
	"github.com/pipirc/bridge/internal/streamreg"
	"github.com/pipirc/bridge/internal/useitem"
)

// ErrItemNotFound is returned by UseItem/EquipItem when the requested handle
// is no longer present in inventory, per spec §4.5's UserError("item no
// longer exists").
var ErrItemNotFound = errors.New("item no longer exists")

// Bot is one PippyBot: the stream's feature set bound to one pip connection.
type Bot struct {
	streamName string
	prefix     string
	say        func(text string)
	pip        pipproto.Client
	points     points.Client
	lock       *useitem.Lock

	mu       sync.RWMutex
	snapshot pipproto.Snapshot
	ready    chan struct{}
	readyOne sync.Once

	featuresMu sync.Mutex
	features   []feature.Feature
	commands   map[string]*feature.Command

	stopOnce sync.Once
	stopped  chan struct{}
}

// New constructs a Bot for stream, speaking the pip protocol over conn (the
// socket handed off by the master for this stream) and publishing chat via
// say. It instantiates every feature named both in stream.Features and in
// the compile-time feature registry (spec §4.6's "intersection of available
// features and those enabled in the stream's config"), blocks until the
// first pip snapshot arrives, and starts the background pip-update loop.
func New(ctx context.Context, stream *streamreg.Stream, conn net.Conn, say func(text string)) (*Bot, error) {
	b := &Bot{
		streamName: stream.Name,
		prefix:     stream.CommandPrefix,
		say:        say,
		pip:        pipproto.NewJSONClient(conn),
		lock:       useitem.NewLock(),
		ready:      make(chan struct{}),
		commands:   make(map[string]*feature.Command),
		stopped:    make(chan struct{}),
	}
	if stream.Integration != nil {
		b.points = points.NewHTTPClient(stream.Integration.Endpoint, stream.Integration.Secret)
	}

	for name, raw := range stream.Features {
		factory, ok := feature.Lookup(name)
		if !ok {
			log.Printf("[bot:%s] feature %q is not registered, skipping", stream.Name, name)
			continue
		}
		f, err := factory(b, raw)
		if err != nil {
			return nil, fmt.Errorf("bot: constructing feature %q: %w", name, err)
		}
		b.featuresMu.Lock()
		b.features = append(b.features, f)
		for _, cmd := range f.Commands() {
			b.commands[b.prefix+cmd.Spec.Name] = cmd
		}
		b.featuresMu.Unlock()
	}

	go b.updateLoop(ctx)

	select {
	case <-b.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.stopped:
		return nil, fmt.Errorf("bot: pip connection closed before first snapshot")
	}
	return b, nil
}

// updateLoop consumes pip snapshots, feeds the use-item lock's check, and
// fans each update out to every feature, per spec §4.5/§4.6. It stops the
// bot when the pip client's Updates channel closes ("on pip-close, calls
// stop()").
func (b *Bot) updateLoop(ctx context.Context) {
	for {
		select {
		case snap, ok := <-b.pip.Updates():
			if !ok {
				b.Stop()
				return
			}
			b.mu.Lock()
			b.snapshot = snap
			b.mu.Unlock()
			b.readyOne.Do(func() { close(b.ready) })
			b.lock.Check(snap.Version, snap.Player.Locked)

			b.featuresMu.Lock()
			fs := append([]feature.Feature(nil), b.features...)
			b.featuresMu.Unlock()
			for _, f := range fs {
				go func(f feature.Feature) {
					defer b.recoverFeature("update")
					f.OnUpdate(b, snap)
				}(f)
			}
		case <-ctx.Done():
			b.Stop()
			return
		}
	}
}

// recoverFeature swallows a panicking feature handler, logging it rather
// than taking down the bot — spec §4.6: "exceptions are logged and
// swallowed."
func (b *Bot) recoverFeature(kind string) {
	if r := recover(); r != nil {
		log.Printf("[bot:%s] feature %s handler panicked: %v", b.streamName, kind, r)
	}
}

// HandleChatLine fans out one inbound chat line to every feature's
// OnMessage ("message handlers ... on any chat line", spec §4.6), and, if
// its first whitespace-delimited token matches a registered
// command_prefix+name, additionally dispatches that command.
func (b *Bot) HandleChatLine(ctx context.Context, sender string, rank ircwire.SenderRank, text string) {
	msg := &feature.Message{Ctx: ctx, Bot: b, Sender: sender, Rank: rank, Text: text}
	b.featuresMu.Lock()
	fs := append([]feature.Feature(nil), b.features...)
	b.featuresMu.Unlock()
	for _, f := range fs {
		go func(f feature.Feature) {
			defer b.recoverFeature("message")
			f.OnMessage(msg)
		}(f)
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	b.featuresMu.Lock()
	cmd, isCmd := b.commands[fields[0]]
	b.featuresMu.Unlock()
	if !isCmd {
		return
	}
	inv := &feature.Invocation{Ctx: ctx, Bot: b, Sender: sender, Rank: rank, Args: fields[1:]}
	go func() {
		defer b.recoverFeature("command " + fields[0])
		cmd.Dispatch(inv, b.Say)
	}()
}

// Stop tears the bot down: stops every feature and closes the pip
// connection. Safe to call more than once.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.featuresMu.Lock()
		fs := append([]feature.Feature(nil), b.features...)
		b.featuresMu.Unlock()
		for _, f := range fs {
			func(f feature.Feature) {
				defer b.recoverFeature("stop")
				f.Stop()
			}(f)
		}
		b.pip.Close()
		close(b.stopped)
	})
}

// Stopped returns a channel closed once the bot has fully stopped.
func (b *Bot) Stopped() <-chan struct{} { return b.stopped }

// submitAction implements the at-most-one-in-flight use/equip semantics
// described in spec §4.5: acquire the reentrant lock (parking until the
// previous use's effect is observable), confirm the handle is still
// present, record the pre-submit inventory version, then submit.
func (b *Bot) submitAction(ctx context.Context, kind pipproto.ActionKind, handle string) error {
	owner := useitem.NewOwnerToken()
	release, err := b.lock.Acquire(ctx, owner)
	if err != nil {
		return err
	}
	defer release()

	snap := b.Snapshot()
	found := false
	for _, item := range snap.Items {
		if item.Handle == handle {
			found = true
			break
		}
	}
	if !found {
		return ErrItemNotFound
	}
	b.lock.RecordUse(snap.Version)
	return b.pip.Submit(pipproto.Action{Kind: kind, ItemHandle: handle})
}

// StreamName implements feature.BotAPI.
func (b *Bot) StreamName() string { return b.streamName }

// Say implements feature.BotAPI: publishes text to the stream's chat
// channel via the bot-host-supplied callback.
func (b *Bot) Say(text string) {
	if b.say != nil {
		b.say(text)
	}
}

// UseItem implements feature.BotAPI.
func (b *Bot) UseItem(ctx context.Context, handle string) error {
	return b.submitAction(ctx, pipproto.ActionUse, handle)
}

// EquipItem implements feature.BotAPI.
func (b *Bot) EquipItem(ctx context.Context, handle string) error {
	return b.submitAction(ctx, pipproto.ActionEquip, handle)
}

// Snapshot implements feature.BotAPI.
func (b *Bot) Snapshot() pipproto.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

// Points implements feature.BotAPI. Returns nil when the stream has no
// points integration configured (spec §4.6: point_cost is then ignored).
func (b *Bot) Points() points.Client { return b.points }

// Commands implements feature.BotAPI: every command across every feature,
// sorted by point cost then name, for the Help feature to enumerate.
func (b *Bot) Commands() []*feature.Command {
	b.featuresMu.Lock()
	defer b.featuresMu.Unlock()
	out := make([]*feature.Command, 0, len(b.commands))
	for _, cmd := range b.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spec.PointCost != out[j].Spec.PointCost {
			return out[i].Spec.PointCost < out[j].Spec.PointCost
		}
		return out[i].Spec.Name < out[j].Spec.Name
	})
	return out
}

var _ feature.BotAPI = (*Bot)(nil)

package chatpool

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pipirc/bridge/internal/ircwire"
)

// Assignment is one stream's desired chat binding: which (host, nick,
// credential) key to speak through and which channel to join, per spec
// §4.4 ("streams[stream_name] -> (host, nick, credential, channel)").
type Assignment struct {
	Name       string
	Host       string
	Nick       string
	Credential string
	Channel    string
}

func (a Assignment) key() Key {
	return Key{Host: a.Host, Nick: a.Nick, Credential: a.Credential}
}

// InboundFunc is the pool-level callback invoked once per inbound chat
// line, with sender/rank/stream-name already derived (spec §4.4).
type InboundFunc func(streamName, text, sender string, rank ircwire.SenderRank)

// Pool is the IRCHostsManager of spec §4.4: it owns one ChatClient per
// distinct (host, nick, credential) key and maintains the stream-name to
// chat-binding mapping used to route outbound sends and derive inbound
// stream names.
type Pool struct {
	dial     DialFunc
	onInbound InboundFunc
	ctx      context.Context

	mu      sync.Mutex
	clients map[Key]*ChatClient
	streams map[string]Assignment
}

// NewPool constructs a Pool. ctx governs the lifetime of every ChatClient
// it creates; canceling it tears the whole pool down.
func NewPool(ctx context.Context, dial DialFunc, onInbound InboundFunc) *Pool {
	return &Pool{
		dial:      dial,
		onInbound: onInbound,
		ctx:       ctx,
		clients:   make(map[Key]*ChatClient),
		streams:   make(map[string]Assignment),
	}
}

// UpdateConnections rebuilds desired channel sets from assignments and
// reconciles the client set against them, per spec §4.4's
// update_connections algorithm:
//   - a key appearing for the first time gets a new ChatClient, started
//     with its desired channel set;
//   - a key that still appears has its channel set updated;
//   - a key that no longer appears has its channel set cleared, then is
//     scheduled to stop once its send queue drains.
func (p *Pool) UpdateConnections(assignments []Assignment) {
	desiredByKey := make(map[Key]map[string]bool)
	for _, a := range assignments {
		k := a.key()
		if desiredByKey[k] == nil {
			desiredByKey[k] = make(map[string]bool)
		}
		desiredByKey[k][a.Channel] = true
	}

	p.mu.Lock()
	p.streams = make(map[string]Assignment, len(assignments))
	for _, a := range assignments {
		p.streams[a.Name] = a
	}

	var toStop []*ChatClient
	for k, desired := range desiredByKey {
		if c, ok := p.clients[k]; ok {
			c.UpdateChannels(desired)
			continue
		}
		c := NewChatClient(k, p.dial, p.wrapInbound())
		p.clients[k] = c
		c.Start(p.ctx, desired)
	}
	for k, c := range p.clients {
		if _, stillDesired := desiredByKey[k]; !stillDesired {
			c.UpdateChannels(nil)
			toStop = append(toStop, c)
			delete(p.clients, k)
		}
	}
	p.mu.Unlock()

	for _, c := range toStop {
		go waitAndStop(c)
	}
}

// waitAndStop blocks until c's send queue has drained — no pending sends
// and no desired channels remain — then issues the chat-protocol QUIT by
// calling Stop, per spec §4.4.
func waitAndStop(c *ChatClient) {
	for c.HasWork() {
		time.Sleep(50 * time.Millisecond)
	}
	c.Stop()
}

// Send routes text to the chat channel bound to streamName. If the stream
// has no current binding (e.g. a race with a just-closed stream) the send
// is logged and dropped, per spec §4.4.
func (p *Pool) Send(streamName, text string) {
	p.mu.Lock()
	a, ok := p.streams[streamName]
	var c *ChatClient
	if ok {
		c = p.clients[a.key()]
	}
	p.mu.Unlock()

	if !ok || c == nil {
		log.Printf("[chatpool] send for unknown/unbound stream %q dropped", streamName)
		return
	}
	c.Send(a.Channel, text)
}

// wrapInbound returns the per-ChatClient InboundHandler that derives
// sender, sender_rank, and stream_name before invoking p.onInbound, per
// spec §4.4's inbound derivation rules.
func (p *Pool) wrapInbound() InboundHandler {
	return func(channel string, tags map[string]string, prefix string, text string) {
		if p.onInbound == nil {
			return
		}
		sender := tags["display-name"]
		if sender == "" {
			sender = prefix
		}
		rank := ircwire.GetSenderRank(tags, sender, channel)
		streamName := strings.TrimPrefix(channel, "#")
		p.onInbound(streamName, text, sender, rank)
	}
}

// Stop stops every ChatClient in the pool without waiting for their send
// queues to drain first — used during the final, non-graceful phase of
// shutdown if the graceful drain (master Stop's normal path) times out.
func (p *Pool) Stop() {
	p.mu.Lock()
	clients := make([]*ChatClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[Key]*ChatClient)
	p.mu.Unlock()
	for _, c := range clients {
		c.Stop()
	}
}

// Drain stops every ChatClient gracefully (waiting for queued sends) and
// blocks until all have stopped or the context is done.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	clients := make([]*ChatClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[Key]*ChatClient)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *ChatClient) {
			defer wg.Done()
			c.UpdateChannels(nil)
			waitAndStop(c)
			select {
			case <-c.Stopped():
			case <-ctx.Done():
			}
		}(c)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

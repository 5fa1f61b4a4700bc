// Package chatpool implements the chat client pool described in spec §4.4:
// one logical ChatClient per distinct (host, nick, credential) key, shared
// across every stream that authenticates the same way, with reliable
// reconnection, channel-membership reconciliation, and send-queue
// preservation across reconnects. The concurrency shape (a long-lived
// connection goroutine plus a dedicated FIFO sender, coordinated through
// channels rather than shared locks on the hot path) generalizes the
// teacher's websocket Hub/Client pattern from a single browser connection
// to a reconnecting IRC client.
package chatpool

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pipirc/bridge/internal/ircwire"
)

// Key identifies one logical ChatClient. Two streams that differ only by
// channel share a ChatClient; any difference in host, nick, or credential
// gets its own, per spec §4.4 ("never reuse a ChatClient whose credential
// differs").
type Key struct {
	Host       string
	Nick       string
	Credential string
}

// State is one of the ChatClient lifecycle states from spec §4.4.
type State int32

const (
	StateStarting State = iota
	StateConnected
	StateReconnecting
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DialFunc opens a raw connection to an IRC host. Tests substitute a fake
// implementation; production wires net.Dial (or tls.Dial).
type DialFunc func(ctx context.Context, host string) (net.Conn, error)

// InboundHandler receives a parsed chat line's channel, tags, and
// prefix/nick, as read off the wire. ChatClient does no sender-rank or
// stream-name derivation itself — that's the pool's job (spec §4.4).
type InboundHandler func(channel string, tags map[string]string, prefix string, text string)

type sendReq struct {
	channel string
	text    string
	stop    bool
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 10 * time.Second
	backoffFactor  = 5
	sendQueueDepth = 4096
)

// ChatClient owns one IRC connection on behalf of a (host, nick,
// credential) key, per spec §4.4.
type ChatClient struct {
	key     Key
	dial    DialFunc
	onMsg   InboundHandler

	sendCh chan sendReq

	mu      sync.Mutex
	state   State
	desired map[string]bool
	pending map[string]int
	joined  map[string]bool

	connMu sync.Mutex
	conn   net.Conn

	stopped chan struct{}
}

// NewChatClient constructs a ChatClient. Call Start to begin connecting.
func NewChatClient(key Key, dial DialFunc, onMsg InboundHandler) *ChatClient {
	return &ChatClient{
		key:     key,
		dial:    dial,
		onMsg:   onMsg,
		sendCh:  make(chan sendReq, sendQueueDepth),
		desired: make(map[string]bool),
		pending: make(map[string]int),
		joined:  make(map[string]bool),
		stopped: make(chan struct{}),
	}
}

// Start begins the connection and sender loops with the given initial
// desired channel set.
func (c *ChatClient) Start(ctx context.Context, desired map[string]bool) {
	c.mu.Lock()
	for ch := range desired {
		c.desired[ch] = true
	}
	c.mu.Unlock()
	go c.connectionLoop(ctx)
	go c.senderLoop(ctx)
}

// State returns the client's current lifecycle state.
func (c *ChatClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ChatClient) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Key returns the client's identity.
func (c *ChatClient) Key() Key { return c.key }

// UpdateChannels replaces the desired channel set and reconciles membership
// (join newly desired channels, part channels no longer desired or pending),
// per spec §4.4's channel membership reconciliation rule.
func (c *ChatClient) UpdateChannels(desired map[string]bool) {
	c.mu.Lock()
	c.desired = make(map[string]bool, len(desired))
	for ch := range desired {
		c.desired[ch] = true
	}
	c.mu.Unlock()
	c.reconcileChannels()
}

// HasWork reports whether the client still has a nonempty desired set or
// any pending sends — the condition under which the pool keeps a
// ChatClient alive (spec §3, ChatClient lifecycle).
func (c *ChatClient) HasWork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.desired) > 0 {
		return true
	}
	for _, n := range c.pending {
		if n > 0 {
			return true
		}
	}
	return false
}

// Send enqueues (channel, text) for delivery. Non-blocking best-effort: if
// the queue is saturated, the send is dropped and logged, rather than
// blocking the caller indefinitely.
func (c *ChatClient) Send(channel, text string) {
	c.mu.Lock()
	c.pending[channel]++
	c.mu.Unlock()
	select {
	case c.sendCh <- sendReq{channel: channel, text: text}:
	default:
		log.Printf("[chatpool] send queue full for %s, dropping message to %s", c.key.Nick, channel)
		c.mu.Lock()
		c.pending[channel]--
		c.mu.Unlock()
	}
}

// Stop enqueues the stop sentinel: the client finishes sending whatever is
// already queued, then disconnects and transitions to Stopped.
func (c *ChatClient) Stop() {
	select {
	case c.sendCh <- sendReq{stop: true}:
	default:
		// Queue saturated; force the issue directly rather than wait forever.
		c.setState(StateDraining)
		c.closeConn()
	}
}

// Stopped returns a channel closed once the client has fully stopped.
func (c *ChatClient) Stopped() <-chan struct{} { return c.stopped }

func (c *ChatClient) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *ChatClient) clearConn() {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
}

func (c *ChatClient) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *ChatClient) writeLine(line string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("chatpool: not connected")
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// connectionLoop owns dial/login/read and the reconnect backoff. It runs
// until the sender loop has driven the client to Stopped.
func (c *ChatClient) connectionLoop(ctx context.Context) {
	backoff := initialBackoff
	for {
		if c.State() == StateStopped {
			return
		}
		c.setState(StateStarting)
		conn, err := c.dial(ctx, c.key.Host)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[chatpool] dial %s failed: %v", c.key.Host, err)
			if !sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}
		if err := c.login(conn); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			log.Printf("[chatpool] login as %s failed: %v", c.key.Nick, err)
			if !sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		backoff = initialBackoff
		c.setConn(conn)
		c.setState(StateConnected)
		c.reconcileChannels()

		c.readUntilError(conn)
		c.clearConn()

		if c.State() == StateStopped || c.State() == StateDraining {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.setState(StateReconnecting)
		if !sleepBackoff(ctx, &backoff) {
			return
		}
	}
}

func (c *ChatClient) login(conn net.Conn) error {
	if _, err := conn.Write([]byte(ircwire.Pass(c.key.Credential) + "\r\n")); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(ircwire.Nick(c.key.Nick) + "\r\n")); err != nil {
		return err
	}
	return nil
}

func (c *ChatClient) readUntilError(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		c.handleLine(line)
	}
}

func (c *ChatClient) handleLine(line string) {
	m := ircwire.Parse(line)
	switch m.Command {
	case "PING":
		c.writeLine(ircwire.Pong(m.Trailing()))
	case "PRIVMSG":
		if len(m.Params) < 1 {
			return
		}
		channel := m.Params[0]
		c.mu.Lock()
		wanted := c.desired[channel]
		c.mu.Unlock()
		if wanted && c.onMsg != nil {
			c.onMsg(channel, m.Tags, m.Nick(), m.Trailing())
		}
	}
}

// reconcileChannels joins every channel in desired∪pending not already
// joined, and parts every joined channel no longer in that set, per spec
// §4.4's channel membership reconciliation rule.
func (c *ChatClient) reconcileChannels() {
	c.mu.Lock()
	openNow := make(map[string]bool, len(c.desired))
	for ch := range c.desired {
		openNow[ch] = true
	}
	for ch, n := range c.pending {
		if n > 0 {
			openNow[ch] = true
		}
	}
	var toJoin, toPart []string
	for ch := range openNow {
		if !c.joined[ch] {
			toJoin = append(toJoin, ch)
		}
	}
	for ch := range c.joined {
		if !openNow[ch] {
			toPart = append(toPart, ch)
		}
	}
	for _, ch := range toJoin {
		c.joined[ch] = true
	}
	for _, ch := range toPart {
		delete(c.joined, ch)
	}
	c.mu.Unlock()

	for _, ch := range toJoin {
		c.writeLine(ircwire.Join(ch))
	}
	for _, ch := range toPart {
		c.writeLine(ircwire.Part(ch))
	}
}

// senderLoop is the dedicated FIFO sender described in spec §4.4. It
// outlives individual connections, so queued messages survive a reconnect.
func (c *ChatClient) senderLoop(ctx context.Context) {
	for {
		select {
		case req := <-c.sendCh:
			if req.stop {
				c.setState(StateDraining)
				c.drainRemaining()
				c.setState(StateStopped)
				c.closeConn()
				close(c.stopped)
				return
			}
			c.deliver(req)
		case <-ctx.Done():
			c.setState(StateStopped)
			c.closeConn()
			close(c.stopped)
			return
		}
	}
}

// drainRemaining sends every message already queued at the moment Stop was
// issued, then returns — it does not wait for new sends to arrive.
func (c *ChatClient) drainRemaining() {
	for {
		select {
		case req := <-c.sendCh:
			if req.stop {
				continue
			}
			c.deliver(req)
		default:
			return
		}
	}
}

func (c *ChatClient) deliver(req sendReq) {
	err := c.writeLine(ircwire.Privmsg(req.channel, req.text))
	c.mu.Lock()
	c.pending[req.channel]--
	if c.pending[req.channel] <= 0 {
		delete(c.pending, req.channel)
	}
	partNeeded := c.pending[req.channel] == 0 && !c.desired[req.channel] && c.joined[req.channel]
	if partNeeded {
		delete(c.joined, req.channel)
	}
	c.mu.Unlock()
	if err != nil {
		log.Printf("[chatpool] send to %s failed, dropping (no retry): %v", req.channel, err)
		return
	}
	if partNeeded {
		c.writeLine(ircwire.Part(req.channel))
	}
}

func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return false
	}
	next := time.Duration(float64(*backoff) * backoffFactor)
	if next > maxBackoff {
		next = maxBackoff
	}
	*backoff = next
	return true
}

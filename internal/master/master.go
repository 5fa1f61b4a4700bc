// Package master implements the Master Orchestrator (spec §4.2): it ties
// the stream registry, the IPC server, and the chat client pool together,
// and is the single place that knows how a stream name maps onto a worker
// assignment and a chat binding.
package master

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pipirc/bridge/internal/chatpool"
	"github.com/pipirc/bridge/internal/ipc"
	"github.com/pipirc/bridge/internal/ircwire"
	"github.com/pipirc/bridge/internal/piplistener"
	"github.com/pipirc/bridge/internal/streamreg"
	"github.com/pipirc/bridge/internal/telemetry"
)

// reconnectMessage is posted into a stream's chat channel whenever its
// worker connection is lost, per spec §4.3 ("synthesize a courteous
// reconnect message").
const reconnectMessage = "Something went wrong. Attempting to reconnect..."

// Master is the orchestrator described in spec §4.2.
type Master struct {
	registry  *streamreg.Registry
	ipc       *ipc.Server
	pool      *chatpool.Pool
	listener  *piplistener.Listener
	telemetry telemetry.Uploader

	mu       sync.Mutex
	assigned map[string]*ipc.WorkerConn
}

// New constructs and starts a Master: the IPC server, the chat pool, and
// the pip listener, in that order. dial opens a raw chat connection for the
// pool (production wires net.Dial/tls.Dial).
func New(ctx context.Context, registry *streamreg.Registry, pipListen, ipcSocket string, dial chatpool.DialFunc, uploader telemetry.Uploader) (*Master, error) {
	if uploader == nil {
		uploader = telemetry.NoopUploader{}
	}
	m := &Master{
		registry:  registry,
		telemetry: uploader,
		assigned:  make(map[string]*ipc.WorkerConn),
	}
	m.pool = chatpool.NewPool(ctx, dial, m.onInboundChat)

	ipcServer, err := ipc.Listen(ipcSocket, ipc.ServerHandlers{
		OnChatMessage: m.SendChat,
		OnWorkerLost:  m.onWorkerLost,
	})
	if err != nil {
		return nil, fmt.Errorf("master: starting ipc server: %w", err)
	}
	m.ipc = ipcServer

	listener, err := piplistener.Listen(pipListen, registry, piplistener.Handlers{
		IsStreamOpen: m.IsStreamOpen,
		OpenStream:   m.OpenStream,
	})
	if err != nil {
		ipcServer.Stop()
		return nil, fmt.Errorf("master: starting pip listener: %w", err)
	}
	m.listener = listener

	return m, nil
}

// PipAddr returns the pip listener's bound address, mainly useful in tests
// that bind to port 0 and need to discover the assigned port.
func (m *Master) PipAddr() net.Addr { return m.listener.Addr() }

// IsStreamOpen implements spec §4.2's is_stream_open: true iff some
// WorkerConn currently has this stream assigned.
func (m *Master) IsStreamOpen(stream *streamreg.Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.assigned[stream.Name]
	return ok
}

// OpenStream implements spec §4.2's open_stream: duplicates conn's
// underlying descriptor, asks the IPC server to transfer it to the
// least-loaded worker, and records the assignment. The pip listener retains
// ownership of conn itself and closes it once the OK response is written;
// OpenStream only ever touches its own duplicate.
func (m *Master) OpenStream(stream *streamreg.Stream, conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("master: pip connection is not a TCP socket")
	}
	file, err := tc.File()
	if err != nil {
		return fmt.Errorf("master: duplicating pip socket: %w", err)
	}

	w, err := m.ipc.OpenStream(stream.Name, file)
	if err != nil {
		file.Close()
		return fmt.Errorf("master: no worker available for %s: %w", stream.Name, err)
	}

	m.mu.Lock()
	m.assigned[stream.Name] = w
	m.mu.Unlock()

	m.syncStreams()
	return nil
}

// SendChat implements spec §4.2's send_chat: forwards worker-originated
// chat to the pool.
func (m *Master) SendChat(streamName, text string) {
	m.pool.Send(streamName, text)
}

// onWorkerLost handles a dropped worker connection: posts a reconnect
// notice into each orphaned stream's channel, clears their assignments, and
// resyncs, per spec §4.3's on-socket-close transition.
func (m *Master) onWorkerLost(streams []string) {
	m.mu.Lock()
	for _, name := range streams {
		delete(m.assigned, name)
	}
	m.mu.Unlock()

	for _, name := range streams {
		m.pool.Send(name, reconnectMessage)
		m.telemetry.Post(context.Background(), telemetry.Event{
			Kind: "worker_lost", StreamName: name, Detail: reconnectMessage, At: now(),
		})
	}
	m.syncStreams()
}

// onInboundChat receives chat the pool parsed off the wire and forwards it,
// through the IPC server, to the worker currently hosting streamName.
func (m *Master) onInboundChat(streamName, text, sender string, rank ircwire.SenderRank) {
	m.mu.Lock()
	w, ok := m.assigned[streamName]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.ipc.SendChat(w, streamName, text, sender, string(rank)); err != nil {
		log.Printf("[master] delivering chat to worker for %s: %v", streamName, err)
	}
}

// syncStreams implements spec §4.2's sync_streams: rebuilds the chat pool's
// desired (host, nick, credential, channel) set from the streams currently
// assigned to a worker, and pushes it to the pool. Idempotent, per §8
// invariant 8.
func (m *Master) syncStreams() {
	m.mu.Lock()
	assignments := make([]chatpool.Assignment, 0, len(m.assigned))
	for name := range m.assigned {
		stream := m.registry.ByName(name)
		if stream == nil {
			continue
		}
		assignments = append(assignments, chatpool.Assignment{
			Name:       stream.Name,
			Host:       stream.ChatHost,
			Nick:       stream.ChatUser,
			Credential: stream.ChatCredential,
			Channel:    stream.ChatChannel(),
		})
	}
	m.mu.Unlock()
	m.pool.UpdateConnections(assignments)
}

// Stop implements spec §4.2's stop(): orderly shutdown — pip listener
// first (refuses new streams), then IPC (drains workers), then chat pool
// (flushes sends, then disconnects). Logs and proceeds if timeout elapses,
// per §5 ("no hard timeout is specified; implementations SHOULD add one").
func (m *Master) Stop(timeout time.Duration) {
	if err := m.listener.Stop(); err != nil {
		log.Printf("[master] stopping pip listener: %v", err)
	}
	m.ipc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.pool.Drain(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[master] shutdown timeout exceeded, forcing chat pool stop")
		m.pool.Stop()
	}
}

// now is a seam over time.Now so this package's one non-deterministic call
// is easy to spot; telemetry events only need wall-clock resolution.
func now() time.Time { return time.Now() }

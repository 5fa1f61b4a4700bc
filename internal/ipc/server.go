package ipc

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
)

// WorkerConn is the master's view of one connected worker: its
// self-announced name, the underlying connection, and the set of stream
// names currently assigned to it (spec §3, "WorkerConn").
type WorkerConn struct {
	conn *Conn

	mu      sync.Mutex
	name    string
	streams map[string]bool
}

// Name returns the worker's self-announced identity, or "" before init.
func (w *WorkerConn) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// StreamCount returns the number of streams currently assigned to this worker.
func (w *WorkerConn) StreamCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.streams)
}

// Streams returns a snapshot of the stream names assigned to this worker.
func (w *WorkerConn) Streams() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.streams))
	for s := range w.streams {
		out = append(out, s)
	}
	return out
}

func (w *WorkerConn) addStream(name string)    { w.mu.Lock(); w.streams[name] = true; w.mu.Unlock() }
func (w *WorkerConn) removeStream(name string) { w.mu.Lock(); delete(w.streams, name); w.mu.Unlock() }

// ServerHandlers are the master-side callbacks the IPC server invokes as
// events arrive. All are called from the server's own goroutines and must
// not block for long.
type ServerHandlers struct {
	// OnChatMessage is invoked when a worker asks to publish text to a
	// stream's chat channel.
	OnChatMessage func(stream, text string)
	// OnWorkerLost is invoked (with the streams it owned) when a worker's
	// connection closes, so the master can emit a reconnect notice and
	// resync. Called before those streams are removed from bookkeeping.
	OnWorkerLost func(streams []string)
}

// Server is the master side of the IPC fabric: it listens for worker
// connections, tracks their stream assignments, and routes control
// messages, per spec §4.3.
type Server struct {
	ln       *net.UnixListener
	handlers ServerHandlers

	mu      sync.Mutex
	workers map[*WorkerConn]bool
	closed  bool
}

// Listen starts the IPC server on a unixpacket socket at path. The path is
// passed to workers on the command line (spec §5, "Worker process
// invocation").
func Listen(path string, handlers ServerHandlers) (*Server, error) {
	os.Remove(path) // stale socket from a previous run
	addr, err := net.ResolveUnixAddr(Network, path)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolving %s: %w", path, err)
	}
	ln, err := net.ListenUnix(Network, addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listening on %s: %w", path, err)
	}
	s := &Server{
		ln:       ln,
		handlers: handlers,
		workers:  make(map[*WorkerConn]bool),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		uc, err := s.ln.AcceptUnix()
		if err != nil {
			return // listener closed during shutdown
		}
		w := &WorkerConn{conn: NewConn(uc), streams: make(map[string]bool)}
		s.mu.Lock()
		s.workers[w] = true
		s.mu.Unlock()
		go s.readLoop(w)
	}
}

func (s *Server) readLoop(w *WorkerConn) {
	defer s.dropWorker(w)
	for {
		m, _, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		switch m.Type {
		case MsgInit:
			w.mu.Lock()
			w.name = m.Name
			w.mu.Unlock()
			log.Printf("[ipc] worker %q connected", m.Name)
		case MsgCloseStream:
			w.removeStream(m.Stream)
		case MsgChatMessage:
			if s.handlers.OnChatMessage != nil {
				s.handlers.OnChatMessage(m.Stream, m.Text)
			}
		default:
			log.Printf("[ipc] dropping frame of unknown type %q from worker %q", m.Type, w.Name())
		}
	}
}

func (s *Server) dropWorker(w *WorkerConn) {
	w.conn.Close()
	s.mu.Lock()
	delete(s.workers, w)
	closed := s.closed
	s.mu.Unlock()
	streams := w.Streams()
	log.Printf("[ipc] worker %q disconnected, %d streams orphaned", w.Name(), len(streams))
	// During an orderly Stop(), every worker connection is closed as part of
	// the drain; that is not a loss to report or resync around (spec §4.2's
	// stop() is an orderly drain, and §4.3's stopping state exists precisely
	// so coordinated teardown isn't mistaken for one).
	if closed {
		return
	}
	if len(streams) > 0 && s.handlers.OnWorkerLost != nil {
		s.handlers.OnWorkerLost(streams)
	}
}

// LeastLoaded returns the connected worker with the fewest assigned
// streams, breaking ties by worker name — deterministic, per spec §4.2
// invariant 3. Returns nil if no worker is connected.
func (s *Server) LeastLoaded() *WorkerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *WorkerConn
	bestCount := -1
	// map iteration order is randomized, so order candidates by name for
	// a deterministic tie-break instead of relying on iteration order.
	candidates := make([]*WorkerConn, 0, len(s.workers))
	for w := range s.workers {
		candidates = append(candidates, w)
	}
	sortWorkersByName(candidates)
	for _, w := range candidates {
		n := w.StreamCount()
		if bestCount == -1 || n < bestCount {
			best, bestCount = w, n
		}
	}
	return best
}

func sortWorkersByName(ws []*WorkerConn) {
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && ws[j-1].Name() > ws[j].Name(); j-- {
			ws[j-1], ws[j] = ws[j], ws[j-1]
		}
	}
}

// OpenStream transfers ownership of conn to the least-loaded worker as the
// pip socket for the named stream. The returned worker is recorded as
// owning that stream so future LeastLoaded/assignment queries see it.
func (s *Server) OpenStream(stream string, conn *os.File) (*WorkerConn, error) {
	w := s.LeastLoaded()
	if w == nil {
		return nil, fmt.Errorf("ipc: no workers connected")
	}
	if err := w.conn.WriteMessageWithFD(Message{Type: MsgOpenStream, Stream: stream}, conn); err != nil {
		return nil, fmt.Errorf("ipc: sending open stream for %s: %w", stream, err)
	}
	w.addStream(stream)
	return w, nil
}

// SendChat delivers inbound chat from sender (at rank senderRank) to the
// worker hosting stream.
func (s *Server) SendChat(w *WorkerConn, stream, text, sender, senderRank string) error {
	return w.conn.WriteMessage(Message{
		Type:       MsgChatMessage,
		Stream:     stream,
		Text:       text,
		Sender:     sender,
		SenderRank: senderRank,
	})
}

// Workers returns a snapshot of currently connected workers.
func (s *Server) Workers() []*WorkerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkerConn, 0, len(s.workers))
	for w := range s.workers {
		out = append(out, w)
	}
	return out
}

// Stop closes the listener and every worker connection.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	workers := make([]*WorkerConn, 0, len(s.workers))
	for w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	s.ln.Close()
	for _, w := range workers {
		w.conn.Close()
	}
}

// Package piplistener implements the pip listener (spec §4.1/§6): the TCP
// front door that authenticates an incoming pip-protocol connection by its
// 32-byte key and hands the raw socket off to the master for assignment to
// a worker.
package piplistener

import (
	"io"
	"log"
	"net"
	"sync"

	"github.com/pipirc/bridge/internal/streamreg"
)

const (
	respOK               = "OK\n"
	respUnknownKey       = "Unknown pip key.\n"
	respAlreadyConnected = "You appear to already be connected.\n" +
		"It's possible this is a zombie connection and will disappear soon.\n" +
		"Close any other copies of this program, or just try again in a few seconds.\n"
	respInternalError = "Internal server error! We'll get this fixed soon.\n"
)

// Handlers are the master-side callbacks the listener invokes once a
// connection has presented a valid, not-already-open pip key.
type Handlers struct {
	// IsStreamOpen reports whether stream is already assigned to a worker,
	// per the "already connected" response case.
	IsStreamOpen func(stream *streamreg.Stream) bool
	// OpenStream hands conn off as the new pip socket for stream, by
	// duplicating its descriptor for the worker. An error return causes the
	// listener to report "Internal server error!" and close the connection.
	// On success, the listener itself closes conn once the OK response has
	// been written — OpenStream's duplicate is the one that lives on.
	OpenStream func(stream *streamreg.Stream, conn net.Conn) error
}

// Listener is the pip listener's TCP accept loop.
type Listener struct {
	ln       net.Listener
	registry *streamreg.Registry
	handlers Handlers

	mu     sync.Mutex
	closed bool
}

// Listen starts accepting pip connections on addr (spec §6's "listen"
// string: "ip:port", "[v6]:port", or a bare port).
func Listen(addr string, registry *streamreg.Registry, handlers Handlers) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{ln: ln, registry: registry, handlers: handlers}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return // listener closed: refuses new streams, per master Stop()'s first phase
		}
		go l.handleConn(conn)
	}
}

// handleConn reads the 32-byte pip key and replies per spec §6, handing the
// connection off to OpenStream on success.
func (l *Listener) handleConn(conn net.Conn) {
	key := make([]byte, streamreg.PipKeyLength)
	if _, err := io.ReadFull(conn, key); err != nil {
		conn.Close()
		return
	}

	stream := l.registry.Lookup(key)
	if stream == nil {
		writeAndClose(conn, respUnknownKey)
		return
	}
	if l.handlers.IsStreamOpen != nil && l.handlers.IsStreamOpen(stream) {
		writeAndClose(conn, respAlreadyConnected)
		return
	}

	if l.handlers.OpenStream == nil {
		writeAndClose(conn, respInternalError)
		return
	}
	if err := l.handlers.OpenStream(stream, conn); err != nil {
		log.Printf("[piplistener] opening stream %q: %v", stream.Name, err)
		writeAndClose(conn, respInternalError)
		return
	}
	// OpenStream has already handed a duplicate of this socket to the
	// worker; the accept-side handle served its purpose once that dup was
	// delivered, so it's safe to close here rather than leaking it.
	if _, err := conn.Write([]byte(respOK)); err != nil {
		log.Printf("[piplistener] writing OK to stream %q: %v", stream.Name, err)
	}
	conn.Close()
}

func writeAndClose(conn net.Conn, msg string) {
	conn.Write([]byte(msg))
	conn.Close()
}

// Addr returns the listener's bound address, mainly useful in tests that
// bind to port 0 and need to discover the assigned port.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Stop closes the listener, refusing any further connections.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.ln.Close()
}

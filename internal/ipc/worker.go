package ipc

import (
	"fmt"
	"log"
	"net"
	"os"
)

// WorkerHandlers are the worker-side callbacks invoked as master messages
// arrive. All are called from the WorkerClient's own read goroutine and
// must not block for long.
type WorkerHandlers struct {
	// OnOpenStream is invoked when the master hands off a pip socket for a
	// stream this worker should now host.
	OnOpenStream func(stream string, conn *os.File)
	// OnChatMessage is invoked when the master delivers inbound chat.
	OnChatMessage func(stream, text, sender, senderRank string)
}

// WorkerClient is the worker side of the IPC fabric: it dials the master's
// socket, announces its name, and relays open-stream/chat-message frames to
// handlers, per spec §4.3.
type WorkerClient struct {
	conn     *Conn
	handlers WorkerHandlers
	done     chan struct{}
}

// Dial connects to the master's IPC socket at path and announces name.
func Dial(path, name string, handlers WorkerHandlers) (*WorkerClient, error) {
	addr, err := net.ResolveUnixAddr(Network, path)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolving %s: %w", path, err)
	}
	uc, err := net.DialUnix(Network, nil, addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: dialing %s: %w", path, err)
	}
	c := &WorkerClient{conn: NewConn(uc), handlers: handlers, done: make(chan struct{})}
	if err := c.conn.WriteMessage(Message{Type: MsgInit, Name: name}); err != nil {
		uc.Close()
		return nil, fmt.Errorf("ipc: announcing identity: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// Done returns a channel that is closed once the connection to the master
// is lost (read error or EOF) — including an unclean master crash, not just
// a Close call — so the worker can notice and shut down, per spec §4.3.
func (c *WorkerClient) Done() <-chan struct{} {
	return c.done
}

func (c *WorkerClient) readLoop() {
	defer close(c.done)
	for {
		m, fd, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch m.Type {
		case MsgOpenStream:
			if fd == nil {
				log.Printf("[ipc] open stream for %s arrived without a descriptor", m.Stream)
				continue
			}
			if c.handlers.OnOpenStream != nil {
				c.handlers.OnOpenStream(m.Stream, fd)
			}
		case MsgChatMessage:
			if c.handlers.OnChatMessage != nil {
				c.handlers.OnChatMessage(m.Stream, m.Text, m.Sender, m.SenderRank)
			}
		default:
			log.Printf("[ipc] dropping frame of unknown type %q from master", m.Type)
		}
	}
}

// CloseStream tells the master this worker no longer hosts stream.
func (c *WorkerClient) CloseStream(stream string) error {
	return c.conn.WriteMessage(Message{Type: MsgCloseStream, Stream: stream})
}

// SendChat asks the master to publish text to stream's chat channel.
func (c *WorkerClient) SendChat(stream, text string) error {
	return c.conn.WriteMessage(Message{Type: MsgChatMessage, Stream: stream, Text: text})
}

// Close disconnects from the master.
func (c *WorkerClient) Close() error {
	return c.conn.Close()
}

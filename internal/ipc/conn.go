package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// maxFrameSize bounds a single control frame; control messages are tiny, so
// anything larger than this is almost certainly a framing bug on one side.
const maxFrameSize = 64 * 1024

// Network is the net.Dial/net.Listen network name used for the IPC socket.
// unixpacket (SOCK_SEQPACKET) is used instead of plain unix (SOCK_STREAM) so
// that message boundaries are preserved: each WriteMessage call corresponds
// to exactly one ReadMessage call on the other end, which is what lets an
// ancillary file descriptor be carried unambiguously alongside its frame in
// a single sendmsg/recvmsg pair (see spec §4.3 and §9's FD passing note).
const Network = "unixpacket"

// Conn wraps one IPC connection (master<->worker) with the framing rules
// from spec §4.3: one JSON object per message, with an ancillary file
// descriptor carried alongside any frame for which WriteMessageWithFD was
// used to send it.
type Conn struct {
	uc *net.UnixConn

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewConn wraps an already-connected unixpacket socket.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// WriteMessage writes m as a single message.
func (c *Conn) WriteMessage(m Message) error {
	return c.writeRaw(m, nil)
}

// WriteMessageWithFD writes m (marked as carrying a descriptor) together
// with f in a single sendmsg call, then closes the caller's copy of f —
// ownership has moved to the peer once the write succeeds.
func (c *Conn) WriteMessageWithFD(m Message, f *os.File) error {
	return c.writeRaw(m, f)
}

func (c *Conn) writeRaw(m Message, f *os.File) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if f != nil {
		m = withFD(m)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ipc: encoding frame: %w", err)
	}

	var oob []byte
	if f != nil {
		oob = unix.UnixRights(int(f.Fd()))
	}
	if _, _, err := c.uc.WriteMsgUnix(payload, oob, nil); err != nil {
		return fmt.Errorf("ipc: writing frame: %w", err)
	}
	if f != nil {
		f.Close() // ownership transferred; our copy is no longer needed
	}
	return nil
}

// ReadMessage reads the next message. If it carries an ancillary
// descriptor, it is returned as fd (caller owns it and must close it);
// otherwise fd is nil.
func (c *Conn) ReadMessage() (m Message, fd *os.File, err error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	payload := make([]byte, maxFrameSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := c.uc.ReadMsgUnix(payload, oob)
	if err != nil {
		return Message{}, nil, err
	}
	if err := json.Unmarshal(payload[:n], &m); err != nil {
		return Message{}, nil, fmt.Errorf("ipc: malformed frame: %w", err)
	}
	if !m.hasFD() || oobn == 0 {
		return m, nil, nil
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return m, nil, fmt.Errorf("ipc: parsing ancillary data: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		for _, rawFd := range fds {
			if fd == nil {
				fd = os.NewFile(uintptr(rawFd), "ipc-fd")
			} else {
				unix.Close(rawFd) // §4.3 only ever transfers one fd per frame
			}
		}
	}
	return m, fd, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.uc.Close()
}

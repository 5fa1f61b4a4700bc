// Package ipc implements the fabric described in spec §4.3: a process-local
// socket connection per worker, carrying one JSON control message per
// datagram-style message, with optional out-of-band file-descriptor
// transfer for handing pip sockets from master to worker.
package ipc

// MessageType enumerates the control messages exchanged between master and
// worker, per the §4.3 table.
type MessageType string

const (
	// MsgInit is sent worker->master once, announcing the worker's name.
	MsgInit MessageType = "init"
	// MsgOpenStream is sent master->worker, transferring fd ownership for stream.
	MsgOpenStream MessageType = "open stream"
	// MsgCloseStream is sent worker->master, relinquishing a stream.
	MsgCloseStream MessageType = "close stream"
	// MsgChatMessage flows both directions: worker->master publishes to chat;
	// master->worker delivers inbound chat to the bot.
	MsgChatMessage MessageType = "chat message"
)

// Message is the wire shape of a single control frame. A non-nil FD indicates that
// exactly one file descriptor immediately follows this frame as ancillary
// data (§4.3: "a frame whose payload contains a numeric fd field").
type Message struct {
	Type MessageType `json:"type"`

	// Name is the worker's self-announced identity (init).
	Name string `json:"name,omitempty"`

	// Stream names the stream the message concerns (open stream, close
	// stream, chat message).
	Stream string `json:"stream,omitempty"`

	// Text is chat message content.
	Text string `json:"text,omitempty"`

	// Sender/SenderRank are set only on master->worker chat message, describing
	// who sent the inbound chat line and at what privilege rank.
	Sender     string `json:"sender,omitempty"`
	SenderRank string `json:"sender_rank,omitempty"`

	// FD is a placeholder marker: a non-nil zero value signals that an
	// ancillary descriptor follows this frame on the wire. It never carries
	// a real descriptor number across process boundaries — SCM_RIGHTS
	// transfers the descriptor out of band; this field only flags that the
	// transfer happens.
	FD *int `json:"fd,omitempty"`
}

var fdMarker = 0

// withFD returns a copy of m marked as carrying an ancillary descriptor.
func withFD(m Message) Message {
	m.FD = &fdMarker
	return m
}

func (m Message) hasFD() bool {
	return m.FD != nil
}

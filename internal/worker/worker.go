// Package worker implements the worker-process runtime: it dials the
// master's IPC socket, hosts one bot.Bot per stream handed off to it, and
// relays inbound chat to the bot that owns each stream (spec §4.3/§4.5).
package worker

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/pipirc/bridge/internal/bot"
	"github.com/pipirc/bridge/internal/ipc"
	"github.com/pipirc/bridge/internal/ircwire"
	"github.com/pipirc/bridge/internal/streamreg"
)

// Worker hosts the bots assigned to this process by the master.
type Worker struct {
	registry *streamreg.Registry
	client   *ipc.WorkerClient

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	bots map[string]*bot.Bot
}

// Run dials the master's IPC socket at ipcSocketPath, announcing name, and
// blocks hosting assigned streams until either ctx is canceled or the IPC
// connection to the master is lost — at which point it stops every bot and
// disconnects, per spec §4.3's "Worker, on detecting socket close, stops
// each Bot, then exits."
func Run(ctx context.Context, name, ipcSocketPath string, registry *streamreg.Registry) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &Worker{
		registry: registry,
		ctx:      wctx,
		cancel:   cancel,
		bots:     make(map[string]*bot.Bot),
	}

	client, err := ipc.Dial(ipcSocketPath, name, ipc.WorkerHandlers{
		OnOpenStream:  w.onOpenStream,
		OnChatMessage: w.onChatMessage,
	})
	if err != nil {
		return fmt.Errorf("worker: dialing master: %w", err)
	}
	w.client = client

	select {
	case <-wctx.Done():
	case <-client.Done():
		log.Printf("[worker] lost connection to master, shutting down")
	}
	w.stopAll()
	return nil
}

// onOpenStream constructs a Bot for the stream handed off in conn, per spec
// §4.5. conn is the worker's own copy of the pip socket fd; bot.New wraps
// it, so it is closed here once net.FileConn has taken its own duplicate.
func (w *Worker) onOpenStream(stream string, conn *os.File) {
	defer conn.Close()

	cfg := w.registry.ByName(stream)
	if cfg == nil {
		log.Printf("[worker] open stream for unknown stream %q", stream)
		return
	}

	netConn, err := net.FileConn(conn)
	if err != nil {
		log.Printf("[worker] wrapping pip socket for %q: %v", stream, err)
		return
	}

	say := func(text string) {
		if err := w.client.SendChat(stream, text); err != nil {
			log.Printf("[worker] relaying chat for %q: %v", stream, err)
		}
	}

	b, err := bot.New(w.ctx, cfg, netConn, say)
	if err != nil {
		log.Printf("[worker] starting bot for %q: %v", stream, err)
		netConn.Close()
		return
	}

	w.mu.Lock()
	w.bots[stream] = b
	w.mu.Unlock()

	go func() {
		<-b.Stopped()
		w.mu.Lock()
		delete(w.bots, stream)
		w.mu.Unlock()
		if err := w.client.CloseStream(stream); err != nil {
			log.Printf("[worker] announcing close of %q: %v", stream, err)
		}
	}()
}

// onChatMessage delivers master-forwarded inbound chat to the bot hosting
// stream, if this worker still owns it.
func (w *Worker) onChatMessage(stream, text, sender, senderRank string) {
	w.mu.Lock()
	b := w.bots[stream]
	w.mu.Unlock()
	if b == nil {
		return
	}
	b.HandleChatLine(w.ctx, sender, ircwire.SenderRank(senderRank), text)
}

// stopAll stops every bot this worker hosts and disconnects from the master.
func (w *Worker) stopAll() {
	w.mu.Lock()
	bots := make([]*bot.Bot, 0, len(w.bots))
	for _, b := range w.bots {
		bots = append(bots, b)
	}
	w.mu.Unlock()
	for _, b := range bots {
		b.Stop()
	}
	if w.client != nil {
		w.client.Close()
	}
}

package master

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pipirc/bridge/internal/ipc"
	"github.com/pipirc/bridge/internal/streamreg"
	"github.com/pipirc/bridge/internal/telemetry"
)

// fakeChatServer is the server half of a net.Pipe chat connection, scanning
// lines the pool writes so tests can assert on them.
type fakeChatServer struct {
	conn  net.Conn
	lines chan string
}

func newFakeChatServer(conn net.Conn) *fakeChatServer {
	fs := &fakeChatServer{conn: conn, lines: make(chan string, 64)}
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fs.lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()
	return fs
}

func (fs *fakeChatServer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-fs.lines:
		if got != want {
			t.Errorf("got line %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func testRegistry() (*streamreg.Registry, string) {
	key := strings.Repeat("b", streamreg.PipKeyLength)
	reg := streamreg.NewRegistry(map[string]*streamreg.Stream{
		"alice": {PipKey: key, ChatHost: "irc.example.tv", ChatUser: "bot", ChatCredential: "oauth:x"},
	}, "", "")
	return reg, key
}

// dialPipKey sends the pip key over a fresh TCP connection to addr and
// returns whatever response line comes back.
func dialPipKey(t *testing.T, addr, key string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(key)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

func TestOpenStreamAssignsWorkerAndRoutesChat(t *testing.T) {
	reg, key := testRegistry()
	client, server := net.Pipe()
	defer client.Close()
	fs := newFakeChatServer(server)

	dial := func(ctx context.Context, host string) (net.Conn, error) {
		return client, nil
	}

	ipcSocket := filepath.Join(t.TempDir(), "ipc.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := New(ctx, reg, "127.0.0.1:0", ipcSocket, dial, telemetry.NoopUploader{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop(time.Second)

	openStreamCh := make(chan string, 1)
	chatCh := make(chan string, 1)
	workerConn, err := ipc.Dial(ipcSocket, "worker-0", ipc.WorkerHandlers{
		OnOpenStream: func(stream string, f *os.File) {
			f.Close()
			openStreamCh <- stream
		},
		OnChatMessage: func(stream, text, sender, senderRank string) {
			chatCh <- stream + "|" + text + "|" + sender + "|" + senderRank
		},
	})
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer workerConn.Close()

	// Poll the pip listener until the worker's init has registered, since
	// the master only learns of a connected worker asynchronously.
	var resp string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp = dialPipKey(t, m.PipAddr().String(), key)
		if resp == "OK\n" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if resp != "OK\n" {
		t.Fatalf("got %q, want OK", resp)
	}

	select {
	case stream := <-openStreamCh:
		if stream != "alice" {
			t.Errorf("got stream %q, want alice", stream)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never received open stream")
	}

	fs.expect(t, "PASS oauth:x")
	fs.expect(t, "NICK bot")
	fs.expect(t, "JOIN #alice")

	m.SendChat("alice", "hello from worker")
	fs.expect(t, "PRIVMSG #alice :hello from worker")

	fs.send(t, "@display-name=viewer1;mod=0 :viewer1!viewer1@x PRIVMSG #alice :ping")
	select {
	case got := <-chatCh:
		if got != "alice|ping|viewer1|viewer" {
			t.Errorf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never received inbound chat")
	}
}

func (fs *fakeChatServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := fs.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestOpenStreamFailsWithoutAWorker(t *testing.T) {
	reg, key := testRegistry()
	dial := func(ctx context.Context, host string) (net.Conn, error) {
		return nil, errNoDial
	}
	ipcSocket := filepath.Join(t.TempDir(), "ipc.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := New(ctx, reg, "127.0.0.1:0", ipcSocket, dial, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop(time.Second)

	got := dialPipKey(t, m.PipAddr().String(), key)
	if got != "Internal server error! We'll get this fixed soon.\n" {
		t.Errorf("got %q", got)
	}
}

type fakeDialErr string

func (e fakeDialErr) Error() string { return string(e) }

var errNoDial = fakeDialErr("no dial in this test")

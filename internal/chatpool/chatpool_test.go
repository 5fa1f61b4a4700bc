package chatpool

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pipirc/bridge/internal/ircwire"
)

// fakeServer wraps the server half of a net.Pipe connection, scanning
// lines the client writes into a channel for assertions.
type fakeServer struct {
	conn  net.Conn
	lines chan string
}

func newFakeServer(conn net.Conn) *fakeServer {
	fs := &fakeServer{conn: conn, lines: make(chan string, 64)}
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fs.lines <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()
	return fs
}

func (fs *fakeServer) expect(t *testing.T, want string) {
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

func (fs *fakeServer) send(line string) {
	fs.conn.Write([]byte(line + "\r\n"))
}

func pipeDialer(t *testing.T) (DialFunc, *fakeServer) {
	client, server := net.Pipe()
	fs := newFakeServer(server)
	dial := func(ctx context.Context, host string) (net.Conn, error) {
		return client, nil
	}
	return dial, fs
}

func TestChatClientLoginAndJoin(t *testing.T) {
	dial, fs := pipeDialer(t)
	var received []string
	c := NewChatClient(Key{Host: "irc.example.tv", Nick: "bot", Credential: "oauth:abc"}, dial,
		func(channel string, tags map[string]string, prefix, text string) {
			received = append(received, text)
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, map[string]bool{"#alice": true})

	fs.expect(t, "PASS oauth:abc")
	fs.expect(t, "NICK bot")
	fs.expect(t, "JOIN #alice")
}

func TestChatClientSendDeliversPrivmsg(t *testing.T) {
	dial, fs := pipeDialer(t)
	c := NewChatClient(Key{Host: "irc.example.tv", Nick: "bot", Credential: "oauth:abc"}, dial, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, map[string]bool{"#alice": true})
	fs.expect(t, "PASS oauth:abc")
	fs.expect(t, "NICK bot")
	fs.expect(t, "JOIN #alice")

	c.Send("#alice", "hello chat")
	fs.expect(t, "PRIVMSG #alice :hello chat")
}

func TestChatClientInboundDispatch(t *testing.T) {
	dial, fs := pipeDialer(t)
	gotCh := make(chan string, 1)
	c := NewChatClient(Key{Host: "irc.example.tv", Nick: "bot", Credential: "oauth:abc"}, dial,
		func(channel string, tags map[string]string, prefix, text string) {
			gotCh <- prefix + ":" + text
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, map[string]bool{"#alice": true})
	fs.expect(t, "PASS oauth:abc")
	fs.expect(t, "NICK bot")
	fs.expect(t, "JOIN #alice")

	fs.send("@display-name=Alice;mod=0 :alice!alice@x PRIVMSG #alice :hi bot")

	select {
	case got := <-gotCh:
		if got != "alice:hi bot" {
			t.Errorf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never dispatched")
	}
}

func TestPoolRoutesSendAndInbound(t *testing.T) {
	dial, fs := pipeDialer(t)
	inboundCh := make(chan string, 1)
	p := NewPool(context.Background(), dial, func(streamName, text, sender string, rank ircwire.SenderRank) {
		inboundCh <- streamName + "|" + text + "|" + sender + "|" + string(rank)
	})

	p.UpdateConnections([]Assignment{
		{Name: "alice", Host: "irc.example.tv", Nick: "bot", Credential: "oauth:abc", Channel: "#alice"},
	})

	fs.expect(t, "PASS oauth:abc")
	fs.expect(t, "NICK bot")
	fs.expect(t, "JOIN #alice")

	p.Send("alice", "hello from bot")
	fs.expect(t, "PRIVMSG #alice :hello from bot")

	fs.send("@display-name=alice;mod=0 :alice!alice@x PRIVMSG #alice :ping")
	select {
	case got := <-inboundCh:
		if got != "alice|ping|alice|broadcaster" {
			t.Errorf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool never dispatched inbound message")
	}
}

func TestPoolSendForUnknownStreamIsDropped(t *testing.T) {
	dial, _ := pipeDialer(t)
	p := NewPool(context.Background(), dial, nil)
	p.Send("nonexistent", "text") // must not panic or block
}

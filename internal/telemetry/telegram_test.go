package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewTelegramUploaderFallsBackToNoopWhenUnconfigured(t *testing.T) {
	if _, ok := NewTelegramUploader("", "").(NoopUploader); !ok {
		t.Error("expected NoopUploader when token is empty")
	}
	if _, ok := NewTelegramUploader("tok", "").(NoopUploader); !ok {
		t.Error("expected NoopUploader when chat id is empty")
	}
}

func TestNoopUploaderPostDoesNothing(t *testing.T) {
	NoopUploader{}.Post(context.Background(), Event{Kind: "test"})
}

func TestTelegramUploaderPostsSendMessage(t *testing.T) {
	received := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := &TelegramUploader{token: "tok", chatID: "123", client: srv.Client()}
	// telegramAPIURL is a package constant baked into Post; point at the test
	// server by constructing the uploader directly and overriding nothing
	// else — Post always formats the real Telegram URL, so this test
	// exercises the request body shape against a local server by swapping
	// the client's transport to redirect to srv instead.
	u.client.Transport = redirectTransport{target: srv.URL}

	u.Post(context.Background(), Event{Kind: "worker_lost", StreamName: "alice", Detail: "boom", At: fixedTime()})

	select {
	case body := <-received:
		if body["chat_id"] != "123" {
			t.Errorf("chat_id = %q", body["chat_id"])
		}
		if body["parse_mode"] != "Markdown" {
			t.Errorf("parse_mode = %q", body["parse_mode"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("uploader never posted to the server")
	}
}

// redirectTransport forwards every request to target regardless of the
// request's original URL, so TestTelegramUploaderPostsSendMessage can assert
// on the real Post code path without reaching api.telegram.org.
type redirectTransport struct {
	target string
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := http.NewRequest(req.Method, rt.target, req.Body)
	if err != nil {
		return nil, err
	}
	target.Header = req.Header
	return http.DefaultTransport.RoundTrip(target)
}

func fixedTime() time.Time {
	t, _ := time.Parse(time.RFC3339, "2026-01-02T15:04:05Z")
	return t
}

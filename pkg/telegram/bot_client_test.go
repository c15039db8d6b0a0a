package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubClient(status int, body string, inspect func(*http.Request)) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if inspect != nil {
			inspect(r)
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})}
}

func TestSendMarkdown_PostsMessage(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	var path string
	client := NewBotClient("123:abc", stubClient(http.StatusOK, `{"ok":true}`, func(r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
	}))

	if err := client.SendMarkdown(context.Background(), 42, "*hello*"); err != nil {
		t.Fatalf("SendMarkdown: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", path)
	}
	if got.ChatID != 42 || got.Text != "*hello*" || got.ParseMode != "Markdown" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestSend_ReportsAPIError(t *testing.T) {
	t.Parallel()

	client := NewBotClient("123:abc", stubClient(http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`, nil))
	err := client.SendMessage(context.Background(), 42, "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestSend_RejectsMissingInput(t *testing.T) {
	t.Parallel()

	if err := NewBotClient("", nil).SendMessage(context.Background(), 1, "hi"); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := NewBotClient("t", nil).SendMessage(context.Background(), 0, "hi"); err == nil {
		t.Fatal("expected error for missing chat id")
	}
	if err := NewBotClient("t", nil).SendMessage(context.Background(), 1, "  "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	t.Parallel()

	if got := EscapeMarkdown("a_b *c* `d` [e]"); got != "a\\_b \\*c\\* \\`d\\` \\[e]" {
		t.Fatalf("unexpected escape: %q", got)
	}
}

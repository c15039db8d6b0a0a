package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
)

func TestSend_BuildsV3Request(t *testing.T) {
	t.Parallel()

	m := NewSendgridMailer("SG.key", Address{Name: "Glee Club", Address: "news@example.org"}, "[GleeWorld] ")
	var captured rest.Request
	m.api = func(_ context.Context, req rest.Request) (*rest.Response, error) {
		captured = req
		return &rest.Response{StatusCode: http.StatusAccepted}, nil
	}

	err := m.Send(context.Background(), Message{
		To:          []Address{{Address: "member@example.org"}},
		Subject:     "Rehearsal",
		TextContent: "Call time 6pm",
		HTMLContent: "<p>Call time 6pm</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.Method != http.MethodPost || !strings.HasSuffix(captured.BaseURL, "/v3/mail/send") {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.BaseURL)
	}
	if captured.Headers["Authorization"] != "Bearer SG.key" {
		t.Fatalf("unexpected auth header %q", captured.Headers["Authorization"])
	}

	var body struct {
		Personalizations []struct {
			Subject string `json:"subject"`
		} `json:"personalizations"`
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	}
	if err := json.Unmarshal(captured.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Personalizations) != 1 || body.Personalizations[0].Subject != "[GleeWorld] Rehearsal" {
		t.Fatalf("unexpected personalizations: %+v", body.Personalizations)
	}
	if len(body.Content) != 2 || body.Content[0].Type != "text/plain" {
		t.Fatalf("unexpected content: %+v", body.Content)
	}
}

func TestSend_ReportsErrorStatus(t *testing.T) {
	t.Parallel()

	m := NewSendgridMailer("SG.key", Address{Address: "news@example.org"}, "")
	m.api = func(context.Context, rest.Request) (*rest.Response, error) {
		return &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"}, nil
	}

	err := m.Send(context.Background(), Message{To: []Address{{Address: "a@example.org"}}, TextContent: "x"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSend_RequiresKeyAndRecipients(t *testing.T) {
	t.Parallel()

	if err := NewSendgridMailer("", Address{}, "").Send(context.Background(), Message{}); err == nil {
		t.Fatal("expected error without api key")
	}
	if err := NewSendgridMailer("k", Address{}, "").Send(context.Background(), Message{TextContent: "x"}); err == nil {
		t.Fatal("expected error without recipients")
	}
}

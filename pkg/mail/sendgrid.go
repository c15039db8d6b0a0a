// Package mail sends transactional email through the SendGrid v3 API.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type Address struct {
	Name    string
	Address string
}

type Message struct {
	To          []Address
	Subject     string
	TextContent string
	HTMLContent string
}

type SendgridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	// api is swapped in tests.
	api func(ctx context.Context, req rest.Request) (*rest.Response, error)
}

func NewSendgridMailer(apiKey string, from Address, subjectPrefix string) *SendgridMailer {
	return &SendgridMailer{
		key:        strings.TrimSpace(apiKey),
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: subjectPrefix,
		api:        sendgrid.MakeRequestWithContext,
	}
}

// Send delivers msg synchronously. A 4xx/5xx reply is returned as an error.
func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if m == nil || m.key == "" {
		return errors.New("sendgrid api key is not configured")
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}
	if msg.TextContent == "" && msg.HTMLContent == "" {
		return errors.New("email has no content")
	}

	req := sendgrid.GetRequest(m.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := m.api(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (m *SendgridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}

	out := sgmail.NewV3Mail()
	out.SetFrom(m.from)
	out.AddPersonalizations(p)

	if msg.TextContent != "" {
		out.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		out.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return out
}

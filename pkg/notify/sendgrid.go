package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/errkind"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// sendgridTimeout bounds a request when the caller's context has no deadline.
const sendgridTimeout = 30 * time.Second

// SendGrid mails each message to a fixed list of recipients.
type SendGrid struct {
	key        string
	host       string
	from       *sgmail.Email
	to         []*sgmail.Email
	subjPrefix string
	renderer   Renderer
	client     *rest.Client
}

var _ ChangeSink = (*SendGrid)(nil)

// NewSendGrid builds an email sink. Empty recipients are skipped.
func NewSendGrid(key, fromEmail string, to []string) *SendGrid {
	svc := &SendGrid{
		key:        key,
		host:       sendgridHost,
		from:       sgmail.NewEmail("learnwatch", fromEmail),
		subjPrefix: "[learnwatch] ",
		renderer:   Renderer{Plain: true},
		client:     &rest.Client{HTTPClient: &http.Client{Timeout: sendgridTimeout}},
	}
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			svc.to = append(svc.to, sgmail.NewEmail("", addr))
		}
	}
	return svc
}

func (svc *SendGrid) Name() string { return "sendgrid" }

// Send mails a free-form message. Markdown escapes are removed.
func (svc *SendGrid) Send(ctx context.Context, text string) error {
	return svc.send(ctx, "notification", UnescapeMarkdown(text))
}

// SendChange renders c as plain text and uses it for the subject line. The
// Markdown text is ignored.
func (svc *SendGrid) SendChange(ctx context.Context, c diff.Change, _ string) error {
	subject := fmt.Sprintf("%s: %s", c.CourseName, c.Subject())
	if c.Subject() == c.CourseName {
		subject = c.CourseName
	}
	return svc.send(ctx, subject, svc.renderer.Render(c))
}

func (svc *SendGrid) prepare(subject, text string) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + subject
	p.AddTos(svc.to...)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", text))
	return m
}

func (svc *SendGrid) send(ctx context.Context, subject, text string) error {
	if len(svc.to) == 0 {
		return errkind.E(errkind.Delivery, "sendgrid", fmt.Errorf("no recipients configured"))
	}
	if err := ctx.Err(); err != nil {
		return errkind.E(errkind.Delivery, "sendgrid", err)
	}

	req := sendgrid.GetRequest(svc.key, sendgridEndpoint, svc.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(subject, text))

	// The client has no context support; stop waiting once ctx is done.
	type result struct {
		res *rest.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := svc.client.Send(req)
		done <- result{res, err}
	}()

	var res *rest.Response
	select {
	case <-ctx.Done():
		return errkind.E(errkind.Delivery, "sendgrid", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return errkind.E(errkind.Delivery, "sendgrid", r.err)
		}
		res = r.res
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errkind.E(errkind.Delivery, "sendgrid", fmt.Errorf("status %d: %s", res.StatusCode, res.Body))
	}
	return nil
}

package blocks

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// Mailer sends a single message. Implementations decide transport.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer is the production Mailer backed by net/smtp.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.From, strings.Join(to, ", "), subject, body)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.Addr, m.Auth, m.From, to, []byte(msg))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// EmailBlock delivers a notification through the configured Mailer.
// Delivery failures are retryable.
type EmailBlock struct {
	mailer Mailer
}

func NewEmailBlock(mailer Mailer) *EmailBlock { return &EmailBlock{mailer: mailer} }

func (b *EmailBlock) BlockType() string { return "email" }

func (b *EmailBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("to", types.NewStringSchema().WithDescription("comma-separated recipients; falls back to the recipient input"))
	schema.AddProperty("subject", types.NewStringSchema())
	schema.AddProperty("body", types.NewStringSchema().WithDescription("message body; falls back to the body input"))
	schema.AddRequired("subject")
	return workflow.BlockInfo{
		Kind:           workflow.BlockKindAction,
		ConfigSchema:   schema,
		RequiredInputs: nil,
	}
}

func (b *EmailBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	recipients := splitRecipients(config["to"])
	if len(recipients) == 0 {
		recipients = splitRecipients(inputs["recipient"])
	}
	if len(recipients) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "email block has no recipients")
	}

	subject, _ := config["subject"].(string)
	if subject == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "email block requires a subject")
	}

	body, _ := config["body"].(string)
	if body == "" {
		if v, ok := inputs["body"].(string); ok {
			body = v
		}
	}

	if err := b.mailer.Send(ctx, recipients, subject, body); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewRetryable("email delivery failed: "+err.Error(), err).WithResource("smtp")
	}

	return map[string]any{
		"delivered": true,
		"to":        recipients,
		"subject":   subject,
	}, nil
}

func splitRecipients(v any) []string {
	switch val := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if addr := strings.TrimSpace(part); addr != "" {
				out = append(out, addr)
			}
		}
		return out
	case []string:
		return val
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

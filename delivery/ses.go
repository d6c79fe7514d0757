package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"estateflow/notification"
)

// SESAPI is the SES call used by SESMailer.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends email-channel notifications.
type SESMailer struct {
	client SESAPI
	from   string
}

func NewSESMailer(client SESAPI, from string) *SESMailer {
	return &SESMailer{client: client, from: from}
}

func (m *SESMailer) Deliver(ctx context.Context, d notification.Delivery) error {
	if d.Email == "" {
		return fmt.Errorf("ses: recipient %s has no email", d.Notification.UserID)
	}
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{d.Email}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject(d.Notification))},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(d.Notification.Message)},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return fmt.Errorf("ses: send: %w", err)
	}
	return nil
}

// subject turns a purpose tag such as agent_approved into "Agent approved".
func subject(n notification.Notification) string {
	words := strings.ReplaceAll(string(n.Purpose), "_", " ")
	if words == "" {
		return "Notification"
	}
	return strings.ToUpper(words[:1]) + words[1:]
}

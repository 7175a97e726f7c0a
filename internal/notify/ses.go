package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client the notifier uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends plain-text email through AWS SES. Phone-channel messages are left to the
// SMS gateway.
type SESNotifier struct {
	client      SESAPI
	fromAddress string
	adminEmails []string
}

// NewSESNotifier loads the default AWS configuration for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, adminEmails []string) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, adminEmails), nil
}

func NewSESNotifierWithClient(client SESAPI, fromAddress string, adminEmails []string) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		adminEmails: adminEmails,
	}
}

func (n *SESNotifier) Name() string { return "ses" }

func (n *SESNotifier) Send(ctx context.Context, msg Message) error {
	if msg.OnPhone() {
		return nil
	}

	var to []string
	switch msg.Audience {
	case AudienceIdentity:
		if msg.To == "" {
			return fmt.Errorf("identity message without recipient")
		}
		to = []string{msg.To}
	case AudienceAdmin:
		if len(n.adminEmails) == 0 {
			return nil
		}
		to = n.adminEmails
	default:
		return fmt.Errorf("unknown audience %q", msg.Audience)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}
	return nil
}

// Package ses provides email delivery via AWS SES.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/Dharshni15/job/internal/notifications"
)

// Config holds SES sender configuration.
type Config struct {
	Region      string
	FromAddress string
}

// Sender implements notifications.Sender via AWS SES.
type Sender struct {
	client *ses.Client
	from   string
}

// NewSender creates an SES sender using the default AWS credential chain.
func NewSender(ctx context.Context, config Config) (*Sender, error) {
	if config.FromAddress == "" {
		return nil, errors.New("ses sender: from address is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	slog.Info("ses sender configured",
		"region", config.Region,
		"from_address", config.FromAddress,
	)

	return &Sender{
		client: ses.NewFromConfig(awsCfg),
		from:   config.FromAddress,
	}, nil
}

// Send delivers one message and returns the SES message id.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(msg.Text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

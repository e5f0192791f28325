package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/relabs-tech/appseed/core/logger"
)

// SQSConfiguration configures the SQS publisher
type SQSConfiguration struct {
	QueueURL  string `env:"SQS_QUEUE_URL,optional" description:"the URL of the SQS queue resource notifications are sent to"`
	AWSRegion string `env:"AWS_REGION,default=eu-central-1" description:"the AWS region"`
}

// sqsAPI is the part of the SQS client we use
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes messages to an AWS SQS queue. FIFO queues get the resource as message group.
type SQS struct {
	client   sqsAPI
	queueURL string
	fifo     bool
}

// NewSQS returns a new SQS publisher using the default AWS credential chain
func NewSQS(ctx context.Context, sqsConfig SQSConfiguration) (*SQS, error) {
	if sqsConfig.QueueURL == "" {
		return nil, fmt.Errorf("queue url must not be empty")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(sqsConfig.AWSRegion))
	if err != nil {
		return nil, err
	}
	logger.Default().Infoln("publishing resource notifications to", sqsConfig.QueueURL)
	return newSQSWithClient(sqs.NewFromConfig(cfg), sqsConfig.QueueURL), nil
}

func newSQSWithClient(client sqsAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

// Publish sends m to the queue
func (s *SQS) Publish(ctx context.Context, m Message) error {
	body, err := m.Encode()
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if s.fifo {
		input.MessageGroupId = aws.String(m.Key())
	}
	if _, err = s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("cannot send notification %s to sqs: %w", m.Key(), err)
	}
	return nil
}

// Close is a no-op
func (s *SQS) Close() error {
	return nil
}

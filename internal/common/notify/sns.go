// internal/common/notify/sns.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"construction-estimator/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/shopspring/decimal"
)

const EventEstimateReady = "estimate.ready"

var ErrNoTopic = errors.New("sns topic arn not configured")

// SNSService is the subset of the SNS client used here, so tests can swap it.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// EstimateReady is the body published once a fresh estimate has been generated.
type EstimateReady struct {
	EstimateID  string          `json:"estimateId"`
	ProjectType string          `json:"projectType"`
	Location    string          `json:"location"`
	Currency    string          `json:"currency"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

type Publisher struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewPublisher(client SNSService, topicARN string, log logger.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "sns", "topicArn": topicARN}),
	}
}

// NewSNSPublisher loads the default AWS credential chain for region.
func NewSNSPublisher(ctx context.Context, region, topicARN string, log logger.Logger) (*Publisher, error) {
	if topicARN == "" {
		return nil, ErrNoTopic
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewPublisher(sns.NewFromConfig(cfg), topicARN, log), nil
}

func (p *Publisher) PublishEstimateReady(ctx context.Context, event EstimateReady) (string, error) {
	if p.topicARN == "" {
		return "", ErrNoTopic
	}
	if event.GeneratedAt.IsZero() {
		event.GeneratedAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal estimate event: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(fmt.Sprintf("Estimate ready: %s", event.ProjectType)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventEstimateReady),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("publish estimate event: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	p.logger.Info("estimate event published", map[string]interface{}{
		"estimateId": event.EstimateID,
		"messageId":  messageID,
	})
	return messageID, nil
}

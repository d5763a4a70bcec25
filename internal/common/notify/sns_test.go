// internal/common/notify/sns_test.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"construction-estimator/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-default")}, nil
}

func TestPublishEstimateReady(t *testing.T) {
	var captured *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
		},
	}

	p := NewPublisher(mock, "arn:aws:sns:us-east-1:000000000000:estimates", logger.NewTestLogger(t))
	generated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := p.PublishEstimateReady(context.Background(), EstimateReady{
		EstimateID:  "est-1",
		ProjectType: "Residential",
		Location:    "Austin, TX",
		Currency:    "USD",
		TotalCost:   decimal.RequireFromString("412500.50"),
		GeneratedAt: generated,
	})

	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:estimates", aws.ToString(captured.TopicArn))
	assert.Equal(t, "Estimate ready: Residential", aws.ToString(captured.Subject))
	assert.Equal(t, EventEstimateReady, aws.ToString(captured.MessageAttributes["eventType"].StringValue))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &body))
	assert.Equal(t, "est-1", body["estimateId"])
	assert.Equal(t, "2026-03-01T10:00:00Z", body["generatedAt"])

	var event EstimateReady
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &event))
	assert.True(t, decimal.RequireFromString("412500.5").Equal(event.TotalCost))
}

func TestPublishEstimateReady_Errors(t *testing.T) {
	t.Run("publish failure is wrapped", func(t *testing.T) {
		mock := &MockSNSService{
			PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
				return nil, errors.New("throttled")
			},
		}
		p := NewPublisher(mock, "arn:topic", logger.NewNoOpLogger())
		_, err := p.PublishEstimateReady(context.Background(), EstimateReady{EstimateID: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "throttled")
	})

	t.Run("missing topic", func(t *testing.T) {
		p := NewPublisher(&MockSNSService{}, "", logger.NewNoOpLogger())
		_, err := p.PublishEstimateReady(context.Background(), EstimateReady{})
		assert.ErrorIs(t, err, ErrNoTopic)

		_, err = NewSNSPublisher(context.Background(), "us-east-1", "", logger.NewNoOpLogger())
		assert.ErrorIs(t, err, ErrNoTopic)
	})
}

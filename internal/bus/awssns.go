package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/campushq/campus-courier/internal/logger"
)

// snsClient defines the minimal subset of the SNS client used by awsTopic.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// awsTopic publishes envelopes to an SNS topic. Queue fan-out is handled by
// the SNS→SQS subscriptions declared in the deployment.
type awsTopic struct {
	name     string
	topicARN string
	client   snsClient
	log      logger.Logger
}

func (t *awsTopic) Name() string { return t.name }

// Publish sends the envelope to the configured SNS topic.
func (t *awsTopic) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(t.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(env.Topic),
			},
			"key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(env.Key),
			},
		},
	}

	if _, err := t.client.Publish(ctx, input); err != nil {
		t.log.ErrorObj("sns topic publish failed", "topic_publish_error", map[string]any{
			"topic": t.name,
			"error": err.Error(),
		})
		return fmt.Errorf("publish to sns: %w", err)
	}
	t.log.DebugObj("sns topic delivered envelope", "topic_publish", map[string]any{
		"topic":       t.name,
		"envelope_id": env.ID,
	})
	return nil
}

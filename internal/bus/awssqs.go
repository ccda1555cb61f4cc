package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/campushq/campus-courier/internal/logger"
)

const sqsWaitTimeSeconds = 20

// sqsClient defines the minimal subset of the SQS client used by awsQueue.
type sqsClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// snsWrapper is the JSON envelope SNS wraps around messages delivered to a
// subscribed queue.
type snsWrapper struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// awsQueue adapts one SQS queue to the Queue contract. The visibility window
// is the queue's own VisibilityTimeout; the delivery count comes from the
// ApproximateReceiveCount attribute.
type awsQueue struct {
	name          string
	queueURL      string
	maxDeliveries int
	client        sqsClient
	quarantine    QuarantineFunc
	log           logger.Logger
}

func (q *awsQueue) Name() string { return q.name }

// Receive long-polls the queue until a deliverable message arrives or ctx is
// done. Undecodable payloads and messages past the delivery budget are
// quarantined and removed without being handed to the worker.
func (q *awsQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     sqsWaitTimeSeconds,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("receive from sqs: %w", err)
		}
		if len(out.Messages) == 0 {
			continue
		}

		msg := out.Messages[0]
		receipt := aws.ToString(msg.ReceiptHandle)

		env, decodeErr := decodeQueueMessage(msg)
		if decodeErr != nil {
			q.log.WarnObj("quarantining undecodable queue message", "queue_decode_error", map[string]any{
				"queue": q.name,
				"error": decodeErr.Error(),
			})
			raw := Envelope{ID: aws.ToString(msg.MessageId), Body: json.RawMessage(aws.ToString(msg.Body))}
			if err := q.quarantine(q.name, raw, "undecodable payload: "+decodeErr.Error()); err != nil {
				return nil, fmt.Errorf("quarantine undecodable message: %w", err)
			}
			if err := q.delete(ctx, receipt); err != nil {
				return nil, err
			}
			continue
		}

		env.Deliveries = receiveCount(msg)
		if env.Deliveries > q.maxDeliveries {
			if err := q.quarantine(q.name, env, fmt.Sprintf("exceeded %d deliveries", q.maxDeliveries)); err != nil {
				return nil, fmt.Errorf("quarantine %s: %w", env.ID, err)
			}
			if err := q.delete(ctx, receipt); err != nil {
				return nil, err
			}
			continue
		}

		return NewDelivery(env,
			func(ctx context.Context) error { return q.delete(ctx, receipt) },
			func(ctx context.Context) error { return q.release(ctx, receipt) },
		), nil
	}
}

func (q *awsQueue) delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("delete sqs message: %w", err)
	}
	return nil
}

func (q *awsQueue) release(ctx context.Context, receipt string) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("release sqs message: %w", err)
	}
	return nil
}

// send is the requeue path, bypassing the topic.
func (q *awsQueue) send(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("send message to sqs: %w", err)
	}
	return nil
}

// decodeQueueMessage unwraps an optional SNS notification wrapper and decodes
// the envelope.
func decodeQueueMessage(msg sqstypes.Message) (Envelope, error) {
	body := []byte(aws.ToString(msg.Body))

	var wrapper snsWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil &&
		wrapper.Type == "Notification" && wrapper.Message != "" {
		body = []byte(wrapper.Message)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("envelope has no id")
	}
	return env, nil
}

// receiveCount parses ApproximateReceiveCount, defaulting to 1.
func receiveCount(msg sqstypes.Message) int {
	raw, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

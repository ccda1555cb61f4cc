package bus

import (
	"context"
	"fmt"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/campushq/campus-courier/internal/config"
	"github.com/campushq/campus-courier/internal/logger"
)

// New builds the configured bus backend and attaches any per-topic mirror
// senders. Mirrors are best-effort: a failing mirror is logged, never
// surfaced to publishers.
func New(ctx context.Context, cfg *config.Config, topo Topology, quarantine QuarantineFunc, mirrors map[string]MirrorSender, log logger.Logger) (Bus, error) {
	if log == nil {
		log = &logger.NopLogger{}
	}

	var (
		b   Bus
		err error
	)
	switch cfg.BusBackend {
	case config.BusMemory:
		b = NewMemory(topo, quarantine)
	case config.BusAWS:
		b, err = newAWSBus(ctx, cfg, topo, quarantine, log)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported bus backend %q", cfg.BusBackend)
	}

	if len(mirrors) == 0 {
		return b, nil
	}
	return &mirroredBus{Bus: b, mirrors: mirrors, log: log}, nil
}

// mirroredBus decorates Topic lookups with mirror delivery.
type mirroredBus struct {
	Bus
	mirrors map[string]MirrorSender
	log     logger.Logger
}

func (m *mirroredBus) Topic(name string) (Topic, error) {
	t, err := m.Bus.Topic(name)
	if err != nil {
		return nil, err
	}
	mirror, ok := m.mirrors[name]
	if !ok {
		return t, nil
	}
	return WithMirror(t, mirror, func(topic string, err error) {
		m.log.WarnObj("mirror sink delivery failed", "mirror_error", map[string]any{
			"topic": topic,
			"error": err.Error(),
		})
	}), nil
}

// awsBus maps topology entries onto existing SNS topics and SQS queues.
type awsBus struct {
	topics map[string]*awsTopic
	queues map[string]*awsQueue
}

func newAWSBus(ctx context.Context, cfg *config.Config, topo Topology, quarantine QuarantineFunc, log logger.Logger) (*awsBus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if quarantine == nil {
		quarantine = func(string, Envelope, string) error { return nil }
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsConf, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	snsCli := sns.NewFromConfig(awsConf)
	sqsCli := sqs.NewFromConfig(awsConf)

	b := &awsBus{
		topics: make(map[string]*awsTopic, len(topo.Topics)),
		queues: make(map[string]*awsQueue),
	}
	for _, tc := range topo.Topics {
		if tc.ARN == "" {
			return nil, fmt.Errorf("topic %q has no arn configured for the aws backend", tc.Name)
		}
		b.topics[tc.Name] = &awsTopic{
			name:     tc.Name,
			topicARN: tc.ARN,
			client:   snsCli,
			log:      log,
		}
		for _, qc := range tc.Queues {
			if qc.URL == "" {
				return nil, fmt.Errorf("queue %q has no url configured for the aws backend", qc.Name)
			}
			b.queues[qc.Name] = &awsQueue{
				name:          qc.Name,
				queueURL:      qc.URL,
				maxDeliveries: qc.MaxDeliveries,
				client:        sqsCli,
				quarantine:    quarantine,
				log:           log,
			}
		}
	}
	return b, nil
}

func (b *awsBus) Topic(name string) (Topic, error) {
	t, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", name)
	}
	return t, nil
}

func (b *awsBus) Queue(name string) (Queue, error) {
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, nil
}

func (b *awsBus) Requeue(ctx context.Context, queue string, env Envelope) error {
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	return q.send(ctx, env)
}

func (b *awsBus) Close() error { return nil }

package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/metrics"
)

// Producer publishes delivery jobs to the chat.delivery topic,
// retrying publish failures with backoff, for up to three attempts in
// all. A job that fails to marshal is not retried.
type Producer struct {
	writer *kafkago.Writer
	logger *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, logger *zap.SugaredLogger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}
	return &Producer{writer: w, logger: logger}
}

// Enqueue publishes job, retrying transient failures up to three
// attempts. An absent recipient is not a publish failure — every
// instance's consumer group receives the job regardless and simply
// finds no local socket for To, so there is nothing to retry there.
func (p *Producer) Enqueue(ctx context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(job.Conversation),
		Value: value,
		Time:  time.Now().UTC(),
	}

	// One initial attempt plus two retries, starting at one second.
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	policy := backoff.WithMaxRetries(expo, 2)
	operation := func() error {
		return p.writer.WriteMessages(ctx, msg)
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		p.logger.Errorw("failed to enqueue delivery job after retries", "to", job.To, "conversation", job.Conversation, "error", err)
		return err
	}
	metrics.DeliveryJobsEnqueued.Inc()
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

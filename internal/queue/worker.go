package queue

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/metrics"
)

// Deliverer is the narrow surface the worker pushes jobs to; the
// connection registry implements it.
type Deliverer interface {
	Send(userHex string, payload []byte, binary bool) bool
}

// Worker consumes delivery jobs and pushes them to any local socket
// the recipient holds. Each instance runs its own uniquely-named
// consumer group so every instance receives every job — a recipient
// may be connected to any one of them, so this is deliberately a
// fan-out, not a partitioned work queue.
type Worker struct {
	reader    *kafkago.Reader
	registry  Deliverer
	logger    *zap.SugaredLogger
}

// NewWorker builds a reader for topic in a consumer group unique to
// this process (groupID should embed the instance id, e.g.
// "cipherline-worker-<instanceID>").
func NewWorker(brokers []string, topic, groupID string, registry Deliverer, logger *zap.SugaredLogger) *Worker {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Worker{reader: r, registry: registry, logger: logger}
}

// Run drains the reader until ctx is cancelled, delivering each job
// to the registry. A malformed job is logged and skipped rather than
// blocking the rest of the stream.
func (w *Worker) Run(ctx context.Context) {
	for {
		m, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnw("delivery worker read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			w.logger.Warnw("delivery worker discarding malformed job", "error", err)
			continue
		}
		if w.registry.Send(job.To, job.Data.Message, false) {
			metrics.DeliveryJobsDelivered.Inc()
		}
	}
}

func (w *Worker) Close() error {
	return w.reader.Close()
}

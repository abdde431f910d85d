package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/platform/rabbitmq"
)

type Ingester interface {
	Ingest(ctx context.Context, key string) (*app.IngestResult, error)
}

// IngestWorker consumes queued upload jobs and runs them through Ingest.
// Failed jobs are dropped: re-uploading resumes from the stored fragments.
type IngestWorker struct {
	conn      *amqp.Connection
	ingester  Ingester
	queueName string
	prefetch  int
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string, prefetch int, logger *zap.Logger) *IngestWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestWorker{
		conn:      conn,
		ingester:  ingester,
		queueName: queueName,
		prefetch:  prefetch,
		logger:    logger.Named("ingest_worker"),
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	for range w.prefetch {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(workerCtx, deliveries)
		}()
	}
	go func() {
		w.wg.Wait()
		_ = ch.Close()
	}()

	w.logger.Info("ingest worker started", zap.String("queue", w.queueName), zap.Int("prefetch", w.prefetch))
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := w.handle(ctx, d.Body); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					// shutting down: leave the job for the next consumer
					_ = d.Nack(false, true)
					return
				}
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (w *IngestWorker) handle(ctx context.Context, body []byte) error {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Warn("decode ingest job failed", zap.Error(err))
		return fmt.Errorf("decode ingest job: %w", err)
	}
	if strings.TrimSpace(job.DocumentKey) == "" {
		w.logger.Warn("ingest job without document key", zap.String("job_id", job.ID))
		return fmt.Errorf("%w: job %s has no document key", app.ErrInvalidInput, job.ID)
	}

	log := w.logger.With(zap.String("job_id", job.ID), zap.String("key", job.DocumentKey))
	result, err := w.ingester.Ingest(ctx, job.DocumentKey)
	if err != nil {
		log.Error("ingest job failed", zap.Error(err))
		return err
	}
	log.Info("ingest job done",
		zap.Uint("source_id", result.SourceID),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// consumerName scopes processed-event bookkeeping to this worker.
const consumerName = "notify-worker"

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// IntakeNotifier is satisfied by Service.
type IntakeNotifier interface {
	NotifyIntakeComplete(ctx context.Context, evt events.IntakeCompletedV1) error
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// Worker drains intake events from the queue and emails advisors.
type Worker struct {
	queue    events.Queue
	notifier IntakeNotifier
	logger   *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processed        processedEventStore
}

type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithProcessedEventsStore makes delivery idempotent across redeliveries.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// NewWorker wires a queue consumer. queue and notifier are required.
func NewWorker(queue events.Queue, notifier IntakeNotifier, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if notifier == nil {
		panic("notify: notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, notifier: notifier, logger: logger, cfg: cfg}
}

// Start launches the worker goroutines. They stop when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notify worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notify worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive intake events", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg events.Message) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		w.logger.Error("failed to decode intake event", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if env.EventType != events.TypeIntakeCompleted {
		w.logger.Debug("ignoring event", "event_type", env.EventType, "event_id", env.EventID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	eventID := env.EventID.String()
	if w.cfg.processed != nil {
		done, err := w.cfg.processed.AlreadyProcessed(ctx, consumerName, eventID)
		if err != nil {
			// Leave the message for redelivery.
			w.logger.Error("processed lookup failed", "error", err, "event_id", eventID)
			return
		}
		if done {
			w.logger.Info("skipping duplicate intake event", "event_id", eventID)
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
	}

	var evt events.IntakeCompletedV1
	if err := env.Decode(&evt); err != nil {
		w.logger.Error("failed to decode intake payload", "error", err, "event_id", eventID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if err := w.notifier.NotifyIntakeComplete(ctx, evt); err != nil {
		w.logger.Error("intake notification failed", "error", err, "event_id", eventID, "conversation_id", evt.ConversationID)
		return
	}

	if w.cfg.processed != nil {
		if _, err := w.cfg.processed.MarkProcessed(ctx, consumerName, eventID); err != nil {
			w.logger.Warn("failed to mark event processed", "error", err, "event_id", eventID)
		}
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete intake event", "error", err)
	}
}

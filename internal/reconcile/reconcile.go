package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"stockmaster/backend/internal/domain"
)

const (
	QueueDefault = "default"
	// TaskType is the asynq task carrying one ReconciliationFlag.
	TaskType = "inventory:reconcile"
)

// Notifier hands a reconciliation flag to whoever follows up on it.
type Notifier interface {
	Notify(ctx context.Context, flag domain.ReconciliationFlag) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, domain.ReconciliationFlag) error { return nil }

func NewTask(flag domain.ReconciliationFlag) (*asynq.Task, error) {
	body, err := json.Marshal(flag)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier enqueues flags for cmd/worker.
type QueueNotifier struct {
	client enqueuer
	closer func() error
}

func NewQueueNotifier(opts asynq.RedisClientOpt) *QueueNotifier {
	client := asynq.NewClient(opts)
	return &QueueNotifier{client: client, closer: client.Close}
}

func (n *QueueNotifier) Notify(ctx context.Context, flag domain.ReconciliationFlag) error {
	task, err := NewTask(flag)
	if err != nil {
		return fmt.Errorf("build reconcile task: %w", err)
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue reconcile task for sale %s: %w", flag.SaleID, err)
	}
	return nil
}

func (n *QueueNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

// Handler processes TaskType tasks. Flags are already persisted by the API;
// the worker surfaces them in the operational log for manual stock review.
func Handler(logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var flag domain.ReconciliationFlag
		if err := json.Unmarshal(t.Payload(), &flag); err != nil {
			return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
		}
		if flag.SaleID == "" || flag.ProductID == "" {
			return fmt.Errorf("reconcile payload without sale or product: %w", asynq.SkipRetry)
		}
		logger.Warn("stock reconciliation required",
			zap.String("flag_id", flag.ID),
			zap.String("sale_id", flag.SaleID),
			zap.String("product_id", flag.ProductID),
			zap.String("product_name", flag.ProductName),
			zap.Int("quantity", flag.Quantity),
			zap.String("reason", flag.Reason))
		return nil
	}
}

// Worker wraps the asynq server that drains the reconcile queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(opts asynq.RedisClientOpt, logger *zap.Logger) *Worker {
	srv := asynq.NewServer(opts, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{QueueDefault: 1},
		Logger:      logger.Sugar(),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, Handler(logger))
	return &Worker{server: srv, mux: mux}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("reconcile worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start reconcile worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

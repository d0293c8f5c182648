package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"stockmaster/backend/internal/domain"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func sampleFlag() domain.ReconciliationFlag {
	return domain.ReconciliationFlag{
		ID:          "rec-1",
		SaleID:      "sale-1",
		ProductID:   "prd-1",
		ProductName: "Leche",
		Quantity:    2,
		Reason:      "product no longer exists",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestQueueNotifierEnqueuesFlag(t *testing.T) {
	fake := &fakeEnqueuer{}
	notifier := &QueueNotifier{client: fake}

	require.NoError(t, notifier.Notify(context.Background(), sampleFlag()))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskType, fake.tasks[0].Type())

	var decoded domain.ReconciliationFlag
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &decoded))
	require.Equal(t, sampleFlag(), decoded)
	require.NoError(t, notifier.Close())
}

func TestQueueNotifierWrapsEnqueueError(t *testing.T) {
	boom := errors.New("redis unavailable")
	notifier := &QueueNotifier{client: &fakeEnqueuer{err: boom}}

	err := notifier.Notify(context.Background(), sampleFlag())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "sale-1")
}

func TestHandlerLogsFlag(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	task, err := NewTask(sampleFlag())
	require.NoError(t, err)

	require.NoError(t, Handler(zap.New(core))(context.Background(), task))
	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "stock reconciliation required", entries[0].Message)
	require.Equal(t, "sale-1", entries[0].ContextMap()["sale_id"])
	require.Equal(t, int64(2), entries[0].ContextMap()["quantity"])
}

func TestHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := Handler(zap.NewNop())

	err := handler(context.Background(), asynq.NewTask(TaskType, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskType, []byte(`{"id":"rec-1"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	require.NoError(t, n.Notify(context.Background(), sampleFlag()))
}

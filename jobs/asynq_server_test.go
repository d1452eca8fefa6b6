package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestEnqueueInvoiceProcessDeduplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, ClientConfig{})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	payload := InvoiceProcessPayload{InvoiceID: "0b0f6a56-6c8a-4f43-9d59-1c1a3b0f0c11", DealID: "42"}
	enqueued, err := client.EnqueueInvoiceProcess(ctx, payload)
	require.NoError(t, err)
	require.True(t, enqueued)

	enqueued, err = client.EnqueueInvoiceProcess(ctx, payload)
	require.NoError(t, err)
	require.False(t, enqueued)

	other := InvoiceProcessPayload{InvoiceID: "7d2c1e44-1b7e-4d0a-8f55-2d9e0a1b2c33", DealID: "43"}
	enqueued, err = client.EnqueueInvoiceProcess(ctx, other)
	require.NoError(t, err)
	require.True(t, enqueued)
}

func TestEnqueueRequiresInvoiceID(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, ClientConfig{})
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.EnqueueInvoiceProcess(context.Background(), InvoiceProcessPayload{DealID: "42"})
	require.Error(t, err)
}

func TestExponentialBackoff(t *testing.T) {
	delay := ExponentialBackoff(5 * time.Second)
	require.Equal(t, 5*time.Second, delay(0, nil, nil))
	require.Equal(t, 10*time.Second, delay(1, nil, nil))
	require.Equal(t, 20*time.Second, delay(2, nil, nil))
	require.Equal(t, 5*time.Second, delay(-1, nil, nil))
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}

func TestInvoiceTaskID(t *testing.T) {
	require.Equal(t, "invoice-abc", InvoiceTaskID("abc"))
	_, err := ParseInvoiceProcessPayload([]byte(`not json`))
	require.Error(t, err)
}

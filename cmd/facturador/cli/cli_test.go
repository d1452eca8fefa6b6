package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facturador/internal/accesskey"
	"github.com/odyssey-erp/facturador/jobs"
)

const sampleKey = "1405202401179001234500110010010000000011234567811"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAccessKeyValidate(t *testing.T) {
	out, err := run(t, "accesskey", "validate", sampleKey)
	require.NoError(t, err)
	require.Equal(t, "valid\n", out)

	_, err = run(t, "accesskey", "validate", sampleKey[:48]+"0")
	require.ErrorIs(t, err, accesskey.ErrInvalidKey)
}

func TestAccessKeyParse(t *testing.T) {
	out, err := run(t, "accesskey", "parse", sampleKey)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "1790012345001", got["taxpayerId"])
	require.Equal(t, "001001", got["series"])
	require.Equal(t, "000000001", got["sequential"])
	require.Equal(t, "12345678", got["numericCode"])
}

func TestAccessKeyCommandsNeedOneArgument(t *testing.T) {
	_, err := run(t, "accesskey", "validate")
	require.Error(t, err)
}

type fakeQueue struct {
	stats   jobs.QueueStats
	failed  []jobs.FailedTask
	retried []string
	err     error
	closed  bool
}

func (f *fakeQueue) Stats() (jobs.QueueStats, error) { return f.stats, f.err }

func (f *fakeQueue) Failed(int) ([]jobs.FailedTask, error) { return f.failed, f.err }

func (f *fakeQueue) RetryInvoice(id string) error {
	if f.err != nil {
		return f.err
	}
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeQueue) Close() error {
	f.closed = true
	return nil
}

func withQueue(t *testing.T, q *fakeQueue) {
	t.Helper()
	prev := newQueueOps
	newQueueOps = func() (QueueOps, error) { return q, nil }
	t.Cleanup(func() { newQueueOps = prev })
}

func TestJobsStats(t *testing.T) {
	q := &fakeQueue{stats: jobs.QueueStats{Queue: jobs.QueueInvoices, Pending: 3, Archived: 1}}
	withQueue(t, q)

	out, err := run(t, "jobs", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "pending    3")
	require.Contains(t, out, "archived   1")
	require.True(t, q.closed)

	out, err = run(t, "jobs", "stats", "--json")
	require.NoError(t, err)
	var got jobs.QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 3, got.Pending)
}

func TestJobsFailed(t *testing.T) {
	withQueue(t, &fakeQueue{})
	out, err := run(t, "jobs", "failed")
	require.NoError(t, err)
	require.Equal(t, "no failed tasks\n", out)

	withQueue(t, &fakeQueue{failed: []jobs.FailedTask{{
		InvoiceID: "inv-1", State: "archived", Retried: 2, MaxRetry: 2, LastError: "sri unavailable",
	}}})
	out, err = run(t, "jobs", "failed", "--size", "5")
	require.NoError(t, err)
	require.Contains(t, out, "INVOICE")
	require.Contains(t, out, "inv-1")
	require.Contains(t, out, "2/2")
	require.Contains(t, out, "sri unavailable")
}

func TestJobsRetry(t *testing.T) {
	q := &fakeQueue{}
	withQueue(t, q)
	out, err := run(t, "jobs", "retry", "inv-9")
	require.NoError(t, err)
	require.Equal(t, "requeued invoice-inv-9\n", out)
	require.Equal(t, []string{"inv-9"}, q.retried)

	withQueue(t, &fakeQueue{err: jobs.ErrTaskNotFound})
	_, err = run(t, "jobs", "retry", "inv-10")
	require.True(t, errors.Is(err, jobs.ErrTaskNotFound))
}

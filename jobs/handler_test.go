package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	info     *asynq.QueueInfo
	infoErr  error
	archived []*asynq.TaskInfo
	retry    []*asynq.TaskInfo
	run      map[string]bool
	ran      []string
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.infoErr }

func (f *fakeInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.archived, nil
}

func (f *fakeInspector) ListRetryTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.retry, nil
}

func (f *fakeInspector) RunTask(_ string, id string) error {
	if !f.run[id] {
		return asynq.ErrTaskNotFound
	}
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeInspector) Close() error { return nil }

func newQueueRouter(f *fakeInspector) http.Handler {
	r := chi.NewRouter()
	r.Route("/queue", NewHandler(NewInspector(f), nil).MountRoutes)
	return r
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := &fakeInspector{info: &asynq.QueueInfo{Queue: QueueInvoices, Pending: 2, Retry: 1, Archived: 3}}
	rr := httptest.NewRecorder()
	newQueueRouter(f).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var stats QueueStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: QueueInvoices, Pending: 2, Retry: 1, Archived: 3}, stats)
}

func TestQueueStatsUnknownQueueIsEmpty(t *testing.T) {
	stats, err := NewInspector(&fakeInspector{infoErr: asynq.ErrQueueNotFound}).Stats()
	require.NoError(t, err)
	require.Equal(t, QueueInvoices, stats.Queue)
	require.Zero(t, stats.Pending)

	_, err = NewInspector(&fakeInspector{infoErr: errors.New("redis down")}).Stats()
	require.Error(t, err)
}

func TestQueueFailedEndpoint(t *testing.T) {
	payload, err := json.Marshal(InvoiceProcessPayload{InvoiceID: "inv-1"})
	require.NoError(t, err)
	failedAt := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	f := &fakeInspector{
		archived: []*asynq.TaskInfo{{ID: "invoice-inv-1", State: asynq.TaskStateArchived, Payload: payload, Retried: 2, MaxRetry: 2, LastErr: "sign document: timeout", LastFailedAt: failedAt}},
		retry:    []*asynq.TaskInfo{{ID: "invoice-inv-2", State: asynq.TaskStateRetry, Payload: []byte("{")}},
	}
	rr := httptest.NewRecorder()
	newQueueRouter(f).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue/failed?size=5", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Tasks []FailedTask `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 2)
	require.Equal(t, "inv-1", body.Tasks[0].InvoiceID)
	require.Equal(t, "archived", body.Tasks[0].State)
	require.Equal(t, "sign document: timeout", body.Tasks[0].LastError)
	require.Empty(t, body.Tasks[1].InvoiceID)
}

func TestQueueRetryEndpoint(t *testing.T) {
	f := &fakeInspector{run: map[string]bool{"invoice-inv-1": true}}
	router := newQueueRouter(f)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/queue/invoices/inv-1/retry", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []string{"invoice-inv-1"}, f.ran)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/queue/invoices/missing/retry", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

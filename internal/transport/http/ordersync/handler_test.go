package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/erpsync/internal/dto"
	service "github.com/Additional-Code/erpsync/internal/service/ordersync"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

type stubSyncer struct {
	result   service.Result
	batch    service.BatchResult
	batchErr error
	status   dto.SyncStatusResponse
	orders   []string
}

func (s *stubSyncer) SyncOne(_ context.Context, order *dto.Order) service.Result {
	s.orders = append(s.orders, order.SubOrderSN)
	res := s.result
	res.OrderNo = order.SubOrderSN
	return res
}

func (s *stubSyncer) SyncBatch(context.Context) (service.BatchResult, error) {
	return s.batch, s.batchErr
}

func (s *stubSyncer) Status(context.Context) dto.SyncStatusResponse {
	return s.status
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind      string `json:"kind"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
	Meta map[string]json.RawMessage `json:"meta"`
}

func serve(t *testing.T, svc Syncer, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := echo.New()
	Register(e, &Handler{svc: svc})

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestSyncOrderEndpoint(t *testing.T) {
	svc := &stubSyncer{result: service.Result{Status: service.StatusSynced, RootID: 77, LinesWritten: 2}}

	rec, env := serve(t, svc, http.MethodPost, "/sync/orders", `{"sub_order_sn":"SO-1","erp_customer_id":3306}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
	require.Equal(t, []string{"SO-1"}, svc.orders)

	var res dto.SyncResultResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Equal(t, "synced", res.Status)
	require.Equal(t, int64(77), res.RootID)

	svc.result = service.Result{Status: service.StatusDuplicate}
	rec, env = serve(t, svc, http.MethodPost, "/sync/orders", `{"sub_order_sn":"SO-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func TestSyncOrderEndpointFailures(t *testing.T) {
	svc := &stubSyncer{result: service.Result{Status: service.StatusFailed, Err: errorbank.NotFound("customer not found")}}

	rec, env := serve(t, svc, http.MethodPost, "/sync/orders", `{"sub_order_sn":"SO-1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, "not_found", env.Error.Kind)
	require.False(t, env.Error.Retryable)
	require.Contains(t, env.Meta, "result")

	rec, env = serve(t, svc, http.MethodPost, "/sync/orders", `{"sub_order_sn":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_input", env.Error.Kind)
	require.Len(t, svc.orders, 1)
}

func TestRunEndpoint(t *testing.T) {
	svc := &stubSyncer{batch: service.BatchResult{
		StartedAt: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
		Since:     "2024-05-01 00:00:00",
		Orders:    []service.Result{{OrderNo: "SO-1", Status: service.StatusSynced}},
		Succeeded: 1,
	}}

	rec, env := serve(t, svc, http.MethodPost, "/sync/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var batch dto.BatchResultResponse
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	require.Equal(t, 1, batch.Total)
	require.Equal(t, 1, batch.Succeeded)

	svc.batchErr = errorbank.Conflict("sync already in progress")
	rec, env = serve(t, svc, http.MethodPost, "/sync/run", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", env.Error.Kind)
	require.True(t, env.Error.Retryable)
}

func TestStatusEndpoint(t *testing.T) {
	svc := &stubSyncer{status: dto.SyncStatusResponse{Marker: "2024-05-02 16:00:00"}}

	rec, env := serve(t, svc, http.MethodGet, "/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status dto.SyncStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Equal(t, "2024-05-02 16:00:00", status.Marker)
	require.Nil(t, status.LastBatch)
}

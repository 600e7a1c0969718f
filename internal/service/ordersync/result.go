package ordersync

import (
	"time"

	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

// Status is the outcome of syncing one order.
type Status string

const (
	// StatusSynced means the order was written and committed by this call.
	StatusSynced Status = "synced"
	// StatusDuplicate means the order already existed; nothing was written.
	StatusDuplicate Status = "duplicate"
	// StatusFailed means nothing was written.
	StatusFailed Status = "failed"
)

// Result describes what SyncOne did with an order.
type Result struct {
	OrderNo      string
	Namespace    namespace.Namespace
	Status       Status
	RootID       int64
	LinesWritten int
	LinesSkipped int
	Notified     bool
	Err          error
}

// OK reports whether the order is present in the ERP after the call.
func (r Result) OK() bool {
	return r.Status == StatusSynced || r.Status == StatusDuplicate
}

// Response renders the result for the ops API.
func (r Result) Response() dto.SyncResultResponse {
	resp := dto.SyncResultResponse{
		OrderNo:      r.OrderNo,
		Namespace:    r.Namespace.String(),
		Status:       string(r.Status),
		RootID:       r.RootID,
		LinesWritten: r.LinesWritten,
		LinesSkipped: r.LinesSkipped,
	}
	if r.Err != nil {
		resp.ErrorKind = string(errorbank.KindOf(r.Err))
		resp.Error = r.Err.Error()
	}
	return resp
}

// BatchResult summarises one pull-and-sync run.
type BatchResult struct {
	StartedAt time.Time
	Since     string
	Orders    []Result
	Succeeded int
	// Rejected is set when upstream refused the pull; no orders were seen.
	Rejected bool
}

// Total is the number of orders pulled.
func (b BatchResult) Total() int {
	return len(b.Orders)
}

// Response renders the batch for the ops API.
func (b BatchResult) Response() dto.BatchResultResponse {
	resp := dto.BatchResultResponse{
		StartedAt: b.StartedAt,
		Since:     b.Since,
		Total:     b.Total(),
		Succeeded: b.Succeeded,
		Rejected:  b.Rejected,
	}
	for _, r := range b.Orders {
		resp.Orders = append(resp.Orders, r.Response())
	}
	return resp
}

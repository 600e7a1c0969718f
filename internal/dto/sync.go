package dto

import "time"

// SyncResultResponse describes the outcome of syncing one order.
type SyncResultResponse struct {
	OrderNo      string `json:"order_no"`
	Namespace    string `json:"namespace,omitempty"`
	Status       string `json:"status"`
	RootID       int64  `json:"root_id,omitempty"`
	LinesWritten int    `json:"lines_written"`
	LinesSkipped int    `json:"lines_skipped"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchResultResponse summarises one pull-and-sync run.
type BatchResultResponse struct {
	StartedAt time.Time            `json:"started_at"`
	Since     string               `json:"since"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Rejected  bool                 `json:"rejected,omitempty"`
	Orders    []SyncResultResponse `json:"orders,omitempty"`
}

// SyncStatusResponse exposes the sync marker and the last batch summary.
type SyncStatusResponse struct {
	Marker    string               `json:"marker"`
	LastBatch *BatchResultResponse `json:"last_batch,omitempty"`
}

package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Fixed codes of online sales-order documents.
const (
	SalesOrderSheetType = 184
	SheetStatusPending  = 2
	FlowStatusCreated   = 1
	SheetCaption        = "金砖天网订单"
	FlowCommand         = "天网自动订单"
)

// SheetRoot is the ERP's generic document header. StateFlowID is zero until
// the first workflow status of the document exists.
type SheetRoot struct {
	bun.BaseModel `bun:"table:_SheetRoots"`

	ID          int64     `bun:"_id,pk,autoincrement"`
	TypeID      int       `bun:"typeId"`
	No          string    `bun:"no"`
	Date        time.Time `bun:"date"`
	Operator    int64     `bun:"operator"`
	Status      int       `bun:"status"`
	StateFlowID int64     `bun:"stateFlowId"`
	SyncState   int       `bun:"syncState"`
	Caption     string    `bun:"caption"`
}

// StatusFlow records one workflow command applied to a document.
type StatusFlow struct {
	bun.BaseModel `bun:"table:_StatusFlow"`

	ID          int64     `bun:"_id,pk,autoincrement"`
	SheetTypeID int       `bun:"sheetTypeId"`
	SheetID     int64     `bun:"sheetId"`
	Command     string    `bun:"command"`
	Status      int       `bun:"status"`
	SyncState   int       `bun:"syncState"`
	Date        time.Time `bun:"date"`
	Operator    int64     `bun:"operator"`
}

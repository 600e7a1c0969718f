package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/cache"
	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/erptest"
	"github.com/Additional-Code/erpsync/internal/messaging"
	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/internal/repository/erp"
	"github.com/Additional-Code/erpsync/internal/upstream"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

var fixedNow = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

type fakeUpstream struct {
	orders    []dto.Order
	fetchErr  error
	notifyErr error
	since     []string
	notified  []string
}

func (f *fakeUpstream) FetchOrders(_ context.Context, since string) ([]dto.Order, error) {
	f.since = append(f.since, since)
	return f.orders, f.fetchErr
}

func (f *fakeUpstream) NotifySynced(_ context.Context, order *dto.Order) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notified = append(f.notified, order.SubOrderSN)
	return nil
}

type capturePublisher struct {
	messaging.Client
	keys   []string
	values [][]byte
}

func (c *capturePublisher) Publish(_ context.Context, key, value []byte) error {
	c.keys = append(c.keys, string(key))
	c.values = append(c.values, value)
	return nil
}

func (c *capturePublisher) Topic() string  { return "erp.orders.synced" }
func (c *capturePublisher) Source() string { return "erpsync-test" }

type fixture struct {
	svc  *Service
	db   *erptest.DB
	repo *erp.Repository
	up   *fakeUpstream
}

func newFixture(t *testing.T, opts ...func(*Params)) *fixture {
	t.Helper()
	db := erptest.Open(t)
	repo := erp.NewRepository(db.Conns, db.Catalog)
	return newFixtureWithStore(t, db, repo, repo, opts...)
}

func newFixtureWithStore(t *testing.T, db *erptest.DB, repo *erp.Repository, store Store, opts ...func(*Params)) *fixture {
	t.Helper()
	up := &fakeUpstream{}
	p := Params{Config: db.Config, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&p)
	}
	svc := New(store, up, p)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, db: db, repo: repo, up: up}
}

func (f *fixture) seedStandard(t *testing.T) {
	t.Helper()
	f.db.SeedCustomer(t, namespace.Standard, erptest.Customer{
		ID: 11, Number: "C-001", DefaultPrice: "批发价",
		AddressID: 501, TerritoryID: 9, SalespersonID: 21, BillerID: 22, BillerUserID: 220,
	})
	f.db.SeedProduct(t, namespace.Standard, "100", 13, 9)
	f.db.SeedBatch(t, namespace.Standard, erptest.Batch{
		ID: 1, ProductCode: "100", Code: "A", Expiry: "2025-01-01", Pack: 1,
		OnHand: 10, Reserved: 2, CostAmount: 80, AssessPrice: 3.5,
	})
	f.db.SeedBatch(t, namespace.Standard, erptest.Batch{
		ID: 5, ProductCode: "300", Code: "C", Expiry: "2025-03-01", Pack: 2, OnHand: 4,
	})
}

func sampleOrder(no string) dto.Order {
	return dto.Order{
		ID:                 9001,
		SubOrderSN:         no,
		ErpCustomerID:      "3306",
		ErpCustomerNo:      "C-001",
		CreatedAt:          dto.Timestamp{Time: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)},
		PayMethod:          "线上支付",
		Source:             "wechat",
		OrderDiscountTotal: dec("50"),
		GoodsTotalFee:      dec("300"),
		SubOrderTotalFee:   dec("250"),
		Message:            "尽快",
		OrderGoods: []dto.OrderGoods{
			{
				ErpGoodsID: "YQ_100",
				Quantity:   dec("3"),
				PriceRecords: dto.PriceRecords{
					SalePrice: dec("10"), WeightWholePrice: dec("12"), SingleAllDiscountFee: dec("1"),
				},
				Promotions: []dto.Promotion{{PromotionType: 2}},
			},
			{ErpGoodsID: "YQ_200", Quantity: dec("1"), PriceRecords: dto.PriceRecords{SalePrice: dec("5")}},
			{ErpGoodsID: "YQ_300", Quantity: dec("2"), PriceRecords: dto.PriceRecords{SalePrice: dec("7"), WeightWholePrice: dec("7")}},
		},
	}
}

func (f *fixture) countAll(t *testing.T, ns namespace.Namespace) int {
	t.Helper()
	total := 0
	for _, table := range []string{"_SheetRoots", "_StatusFlow", "Sheet_销售订单", "Sheet_销售订单_明细", "T_YIIDELIVERY_YQYK174"} {
		total += f.db.Count(t, ns, table)
	}
	return total
}

func TestSyncOneWritesWholeOrder(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	ctx := context.Background()

	order := sampleOrder("SO-1")
	res := f.svc.SyncOne(ctx, &order)
	require.NoError(t, res.Err)
	require.Equal(t, StatusSynced, res.Status)
	require.Equal(t, namespace.Standard, res.Namespace)
	require.NotZero(t, res.RootID)
	require.Equal(t, 2, res.LinesWritten)
	require.Equal(t, 1, res.LinesSkipped)
	require.True(t, res.Notified)
	require.Equal(t, []string{"SO-1"}, f.up.notified)

	db := f.db.Writer()

	var (
		flowID   int64
		operator int64
		caption  string
	)
	err := db.NewSelect().ColumnExpr("stateFlowId, operator, caption").TableExpr("std__SheetRoots").
		Where("_id = ?", res.RootID).Scan(ctx, &flowID, &operator, &caption)
	require.NoError(t, err)
	require.NotZero(t, flowID)
	require.Equal(t, int64(220), operator)
	require.Equal(t, entity.SheetCaption, caption)

	var flowOperator, flowSheet int64
	err = db.NewSelect().ColumnExpr("operator, sheetId").TableExpr("std__StatusFlow").
		Where("_id = ?", flowID).Scan(ctx, &flowOperator, &flowSheet)
	require.NoError(t, err)
	require.Equal(t, int64(7), flowOperator)
	require.Equal(t, res.RootID, flowSheet)

	var (
		remark, note, guid                string
		salesperson, biller, dept, keeper int64
		address                           int64
		total                             decimal.Decimal
	)
	err = db.NewSelect().
		ColumnExpr("备注, 客户备注, guid, 销售员, 开票员, 职员部门, 记账员, 收货地址, 总金额").
		TableExpr("std_Sheet_销售订单").
		Where("_id = ?", res.RootID).
		Scan(ctx, &remark, &note, &guid, &salesperson, &biller, &dept, &keeper, &address, &total)
	require.NoError(t, err)
	require.Equal(t, "微信;线上支付;订单优惠:50", remark)
	require.Equal(t, "线上已付款;尽快", note)
	require.Equal(t, "SO-1", guid)
	require.Equal(t, int64(21), salesperson)
	require.Equal(t, int64(22), biller)
	require.Equal(t, int64(3), dept)
	require.Equal(t, int64(-1), keeper)
	require.Equal(t, int64(501), address)
	require.True(t, total.Equal(dec("300")))

	var seqs []int
	err = db.NewSelect().ColumnExpr("_rid").TableExpr("std_Sheet_销售订单_明细").
		Where("_pid = ?", res.RootID).OrderExpr("_rid ASC").Scan(ctx, &seqs)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, seqs)

	var (
		batchID                             int64
		amount, profit, rate, units, assess decimal.Decimal
		itemRemark                          string
	)
	err = db.NewSelect().
		ColumnExpr("批次商品, 金额, 利润, 利润率, 件数, 考核金额, 商品备注").
		TableExpr("std_Sheet_销售订单_明细").
		Where("_pid = ? AND _rid = 1", res.RootID).
		Scan(ctx, &batchID, &amount, &profit, &rate, &units, &assess, &itemRemark)
	require.NoError(t, err)
	require.Equal(t, int64(1), batchID)
	require.True(t, amount.Equal(dec("30")), amount.String())
	require.True(t, profit.Equal(dec("6")), profit.String())
	require.True(t, rate.Equal(dec("20")), rate.String())
	require.True(t, units.Equal(dec("3")), units.String())
	require.True(t, assess.Equal(dec("10.5")), assess.String())
	require.Equal(t, "特价;优惠金额:3", itemRemark)

	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("5")))
	require.True(t, f.db.Reserved(t, namespace.Standard, 5).Equal(dec("2")))

	var midCustomer string
	err = db.NewSelect().ColumnExpr("erp_customer_id").TableExpr("std_T_YIIDELIVERY_YQYK174").
		Where("order_number = ?", "SO-1").Scan(ctx, &midCustomer)
	require.NoError(t, err)
	require.Equal(t, "3306", midCustomer)
}

func TestSyncOneIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	ctx := context.Background()

	order := sampleOrder("SO-1")
	first := f.svc.SyncOne(ctx, &order)
	require.Equal(t, StatusSynced, first.Status)
	rows := f.countAll(t, namespace.Standard)

	second := f.svc.SyncOne(ctx, &order)
	require.NoError(t, second.Err)
	require.Equal(t, StatusDuplicate, second.Status)
	require.True(t, second.OK())
	require.False(t, second.Notified)

	require.Equal(t, rows, f.countAll(t, namespace.Standard))
	require.Len(t, f.up.notified, 1)
	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("5")))
}

func TestSyncOneRollsBackOnLineFailure(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	f.db.Exec(t, `CREATE TRIGGER fail_last_line BEFORE INSERT ON std_Sheet_销售订单_明细
		WHEN NEW._rid = 3 BEGIN SELECT RAISE(ABORT, 'boom'); END`)

	order := sampleOrder("SO-1")
	res := f.svc.SyncOne(context.Background(), &order)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, errorbank.KindWriteFailure, errorbank.KindOf(res.Err))

	require.Zero(t, f.countAll(t, namespace.Standard))
	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("2")))
	require.True(t, f.db.Reserved(t, namespace.Standard, 5).IsZero())
	require.Empty(t, f.up.notified)
}

func TestSyncOneFailsWhenEveryLineIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.db.SeedCustomer(t, namespace.Standard, erptest.Customer{ID: 11, Number: "C-001"})

	order := sampleOrder("SO-1")
	res := f.svc.SyncOne(context.Background(), &order)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, errorbank.KindBusinessRule, errorbank.KindOf(res.Err))
	require.Zero(t, f.countAll(t, namespace.Standard))
	require.Empty(t, f.up.notified)
}

func TestSyncOneUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)

	order := sampleOrder("SO-1")
	order.ErpCustomerNo = "C-404"
	res := f.svc.SyncOne(context.Background(), &order)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, errorbank.KindNotFound, errorbank.KindOf(res.Err))
	require.Zero(t, f.countAll(t, namespace.Standard))
}

func TestSyncOneRejectsInvalidOrders(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	ctx := context.Background()

	res := f.svc.SyncOne(ctx, nil)
	require.Equal(t, errorbank.KindInvalidInput, errorbank.KindOf(res.Err))

	cases := map[string]func(o *dto.Order){
		"missing customer id": func(o *dto.Order) { o.ErpCustomerID = "" },
		"missing order no":    func(o *dto.Order) { o.SubOrderSN = "" },
		"short product ref":   func(o *dto.Order) { o.OrderGoods[0].ErpGoodsID = "YQ" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			order := sampleOrder("SO-1")
			mutate(&order)
			res := f.svc.SyncOne(ctx, &order)
			require.Equal(t, StatusFailed, res.Status)
			require.Equal(t, errorbank.KindInvalidInput, errorbank.KindOf(res.Err))
		})
	}
	require.Zero(t, f.countAll(t, namespace.Standard))
}

func TestSyncOneSkipsUnusableLines(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	ctx := context.Background()

	order := sampleOrder("SO-1")
	// stocked, but the picked batch has no batch times
	order.OrderGoods[2].ErpStockID = "5"
	order.OrderGoods[2].SelectedBatchCode = "C"
	order.OrderGoods[2].SelectedBatchTimes = ""
	order.OrderGoods = append(order.OrderGoods, dto.OrderGoods{
		ErpGoodsID: "YQ_100", Quantity: decimal.Zero, PriceRecords: dto.PriceRecords{SalePrice: dec("10")},
	})

	res := f.svc.SyncOne(ctx, &order)
	require.NoError(t, res.Err)
	require.Equal(t, StatusSynced, res.Status)
	require.Equal(t, 1, res.LinesWritten)
	require.Equal(t, 3, res.LinesSkipped)
	require.Equal(t, 1, f.db.Count(t, namespace.Standard, "Sheet_销售订单_明细"))
	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("5")))
	require.True(t, f.db.Reserved(t, namespace.Standard, 5).IsZero())
}

func TestSyncOneFailsWhenOnlyLineHasMalformedHint(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)

	order := sampleOrder("SO-1")
	order.OrderGoods = order.OrderGoods[:1]
	order.OrderGoods[0].ErpStockID = "1"
	order.OrderGoods[0].SelectedBatchCode = "A"
	order.OrderGoods[0].SelectedBatchTimes = "first"

	res := f.svc.SyncOne(context.Background(), &order)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, errorbank.KindBusinessRule, errorbank.KindOf(res.Err))
	require.Zero(t, f.countAll(t, namespace.Standard))
	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("2")))
}

func TestSyncOneHonoursBatchHint(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	f.db.SeedBatch(t, namespace.Standard, erptest.Batch{ID: 2, ProductCode: "100", Code: "B", Expiry: "2026-01-01", Pack: 1, OnHand: 10})
	ctx := context.Background()

	order := sampleOrder("SO-1")
	order.OrderGoods = order.OrderGoods[:1]
	order.OrderGoods[0].ErpStockID = "2"
	order.OrderGoods[0].SelectedBatchCode = "B"
	order.OrderGoods[0].SelectedBatchTimes = "2"

	res := f.svc.SyncOne(ctx, &order)
	require.NoError(t, res.Err)

	var batchID int64
	err := f.db.Writer().NewSelect().ColumnExpr("批次商品").TableExpr("std_Sheet_销售订单_明细").
		Where("_pid = ?", res.RootID).Scan(ctx, &batchID)
	require.NoError(t, err)
	require.Equal(t, int64(2), batchID)
	require.True(t, f.db.Reserved(t, namespace.Standard, 1).Equal(dec("2")))
	require.True(t, f.db.Reserved(t, namespace.Standard, 2).Equal(dec("3")))
}

func TestSyncOneRoutesHerbalOrders(t *testing.T) {
	f := newFixture(t)
	f.db.SeedCustomer(t, namespace.Herbal, erptest.Customer{ID: 4, Number: "C-001"})
	f.db.SeedBatch(t, namespace.Herbal, erptest.Batch{ID: 9, ProductCode: "100", Code: "H", Expiry: "2025-01-01", Pack: 1, OnHand: 5})

	order := sampleOrder("SO-H")
	order.OrderGoods = order.OrderGoods[:1]
	order.SplitRules = []dto.SplitRule{{RuleNo: 4, Value: "中药饮片"}}

	res := f.svc.SyncOne(context.Background(), &order)
	require.NoError(t, res.Err)
	require.Equal(t, namespace.Herbal, res.Namespace)
	require.Equal(t, 1, f.db.Count(t, namespace.Herbal, "Sheet_销售订单_明细"))
	require.Zero(t, f.countAll(t, namespace.Standard))
	require.True(t, f.db.Reserved(t, namespace.Herbal, 9).Equal(dec("3")))
}

func TestSyncOneKeepsCommitWhenNotifyFails(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	f.up.notifyErr = errors.New("upstream down")

	order := sampleOrder("SO-1")
	res := f.svc.SyncOne(context.Background(), &order)
	require.NoError(t, res.Err)
	require.Equal(t, StatusSynced, res.Status)
	require.False(t, res.Notified)
	require.Equal(t, 1, f.db.Count(t, namespace.Standard, "_SheetRoots"))
}

// drainingStore drains each selected batch right before reserving it, the
// way a competing writer would.
type drainingStore struct {
	*erp.Repository
	table  string
	drains int
	limit  int
}

func (d *drainingStore) ReserveStock(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string, batch entity.BatchAllocation, qty decimal.Decimal) error {
	if d.drains < d.limit {
		d.drains++
		if _, err := db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET 并发数量 = 数量 WHERE 批次商品 = ?", d.table), batch.BatchID); err != nil {
			return err
		}
	}
	return d.Repository.ReserveStock(ctx, db, ns, productCode, batch, qty)
}

func TestSyncOneReselectsDrainedBatch(t *testing.T) {
	db := erptest.Open(t)
	repo := erp.NewRepository(db.Conns, db.Catalog)
	store := &drainingStore{Repository: repo, table: db.Table(namespace.Standard, "book_商品开票库存账_WMS_sum"), limit: 1}
	f := newFixtureWithStore(t, db, repo, store)
	f.seedStandard(t)
	db.SeedBatch(t, namespace.Standard, erptest.Batch{ID: 2, ProductCode: "100", Code: "B", Expiry: "2026-01-01", Pack: 1, OnHand: 10})
	ctx := context.Background()

	order := sampleOrder("SO-1")
	order.OrderGoods = order.OrderGoods[:1]
	res := f.svc.SyncOne(ctx, &order)
	require.NoError(t, res.Err)

	var batchID int64
	err := db.Writer().NewSelect().ColumnExpr("批次商品").TableExpr("std_Sheet_销售订单_明细").
		Where("_pid = ?", res.RootID).Scan(ctx, &batchID)
	require.NoError(t, err)
	require.Equal(t, int64(2), batchID)
	require.True(t, db.Reserved(t, namespace.Standard, 2).Equal(dec("3")))
}

func TestSyncOneGivesUpAfterRepeatedConflicts(t *testing.T) {
	db := erptest.Open(t)
	repo := erp.NewRepository(db.Conns, db.Catalog)
	store := &drainingStore{Repository: repo, table: db.Table(namespace.Standard, "book_商品开票库存账_WMS_sum"), limit: 10}
	f := newFixtureWithStore(t, db, repo, store)
	f.seedStandard(t)
	for id := int64(2); id <= 4; id++ {
		db.SeedBatch(t, namespace.Standard, erptest.Batch{ID: id, ProductCode: "100", Code: fmt.Sprintf("B%d", id), Expiry: "2026-01-01", Pack: 1, OnHand: 10})
	}

	order := sampleOrder("SO-1")
	order.OrderGoods = order.OrderGoods[:1]
	res := f.svc.SyncOne(context.Background(), &order)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, errorbank.KindConflict, errorbank.KindOf(res.Err))
	require.Equal(t, 3, store.drains)

	require.Zero(t, f.countAll(t, namespace.Standard))
	require.True(t, db.Reserved(t, namespace.Standard, 1).Equal(dec("2")))
	require.True(t, db.Reserved(t, namespace.Standard, 2).IsZero())
}

func TestSyncOneCachesCustomer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, func(p *Params) { p.Cache = cache.NewRedisStore(client, time.Minute) })
	f.seedStandard(t)
	ctx := context.Background()

	order := sampleOrder("SO-1")
	require.NoError(t, f.svc.SyncOne(ctx, &order).Err)
	require.True(t, mr.Exists("erpsync:customer:standard:C-001"))

	f.db.Exec(t, "DELETE FROM std_Info_客商")
	order = sampleOrder("SO-2")
	res := f.svc.SyncOne(ctx, &order)
	require.NoError(t, res.Err)
	require.Equal(t, StatusSynced, res.Status)
}

func TestSyncOnePublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	f := newFixture(t, func(p *Params) {
		p.Publisher = pub
		p.Config.Messaging.Enabled = true
	})
	f.seedStandard(t)

	order := sampleOrder("SO-1")
	res := f.svc.SyncOne(context.Background(), &order)
	require.NoError(t, res.Err)

	require.Equal(t, []string{"SO-1"}, pub.keys)
	var event OrderSyncedEvent
	require.NoError(t, json.Unmarshal(pub.values[0], &event))
	require.NotEmpty(t, event.EventID)
	require.Equal(t, res.RootID, event.RootID)
	require.Equal(t, "standard", event.Namespace)
	require.Equal(t, 2, event.Lines)
	require.Equal(t, 1, event.Skipped)
	require.Equal(t, "erpsync-test", event.Source)
}

func TestSyncBatchAdvancesMarkerOnlyWhenAllSucceed(t *testing.T) {
	f := newFixture(t)
	f.seedStandard(t)
	f.svc.marker = "2024-05-01 00:00:00"
	ctx := context.Background()

	good := sampleOrder("SO-1")
	bad := sampleOrder("SO-2")
	bad.ErpCustomerNo = "C-404"
	f.up.orders = []dto.Order{good, bad}

	batch, err := f.svc.SyncBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Total())
	require.Equal(t, 1, batch.Succeeded)
	require.Equal(t, "2024-05-01 00:00:00", f.svc.Marker(ctx))

	// the synced order comes back as a duplicate, the bad one is fixed
	f.db.SeedCustomer(t, namespace.Standard, erptest.Customer{ID: 12, Number: "C-404"})
	batch, err = f.svc.SyncBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Succeeded)
	require.Equal(t, StatusDuplicate, batch.Orders[0].Status)
	require.Equal(t, StatusSynced, batch.Orders[1].Status)
	require.Equal(t, dto.FormatUpstream(fixedNow), f.svc.Marker(ctx))
	require.Equal(t, []string{"2024-05-01 00:00:00", "2024-05-01 00:00:00"}, f.up.since)

	last, ok := f.svc.LastBatch()
	require.True(t, ok)
	require.Equal(t, 2, last.Succeeded)

	status := f.svc.Status(ctx)
	require.Equal(t, dto.FormatUpstream(fixedNow), status.Marker)
	require.NotNil(t, status.LastBatch)
	require.Equal(t, 2, status.LastBatch.Total)
}

func TestSyncBatchPersistsMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, func(p *Params) { p.Cache = cache.NewRedisStore(client, time.Minute) })
	ctx := context.Background()

	_, err := f.svc.SyncBatch(ctx)
	require.NoError(t, err)

	stored, err := mr.Get("erpsync:last_sync_time")
	require.NoError(t, err)
	require.Equal(t, dto.FormatUpstream(fixedNow), stored)
	require.Zero(t, mr.TTL("erpsync:last_sync_time"))
}

func TestSyncBatchFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.up.fetchErr = errors.New("connection refused")

	_, err := f.svc.SyncBatch(context.Background())
	require.Equal(t, errorbank.KindUnavailable, errorbank.KindOf(err))
	_, ok := f.svc.LastBatch()
	require.False(t, ok)
}

func TestSyncBatchRejectsConcurrentRun(t *testing.T) {
	locker := cache.NewLocalLocker()
	f := newFixture(t, func(p *Params) { p.Locker = locker })
	ctx := context.Background()

	held, err := locker.Obtain(ctx, batchLockKey, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.SyncBatch(ctx)
	require.Equal(t, errorbank.KindConflict, errorbank.KindOf(err))
	require.Empty(t, f.up.since)

	require.NoError(t, held.Release(ctx))
	_, err = f.svc.SyncBatch(ctx)
	require.NoError(t, err)
}

func TestSyncBatchKeepsMarkerWhenUpstreamRefusesPull(t *testing.T) {
	var pulls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pulls = append(pulls, r.URL.Query().Get("last_sync_time"))
		_, _ = w.Write([]byte(`{"status":0,"message":"token expired"}`))
	}))
	t.Cleanup(srv.Close)

	db := erptest.Open(t)
	repo := erp.NewRepository(db.Conns, db.Catalog)
	cfg := db.Config
	cfg.Upstream = config.Upstream{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second, NotifyAttempts: 1}

	svc := New(repo, upstream.NewClient(cfg, zap.NewNop()), Params{Config: cfg, Logger: zap.NewNop()})
	svc.now = func() time.Time { return fixedNow }
	svc.marker = "2024-01-01 00:00:00"
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		batch, err := svc.SyncBatch(ctx)
		require.NoError(t, err)
		require.True(t, batch.Rejected)
		require.Zero(t, batch.Total())
		require.Equal(t, "2024-01-01 00:00:00", svc.Marker(ctx))
	}
	require.Equal(t, []string{"2024-01-01 00:00:00", "2024-01-01 00:00:00"}, pulls)

	last, ok := svc.LastBatch()
	require.True(t, ok)
	require.True(t, last.Rejected)
	require.True(t, svc.Status(ctx).LastBatch.Rejected)
}

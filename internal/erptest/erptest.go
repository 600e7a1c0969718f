// Package erptest builds throwaway sqlite copies of the ERP schema for tests.
package erptest

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	goosedb "github.com/pressly/goose/v3/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/database"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

// Table prefixes of the two schemas inside the test database.
const (
	StandardPrefix = "std_"
	HerbalPrefix   = "hb_"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB is a sqlite database holding both ERP schemas.
type DB struct {
	Conns   *database.Connections
	Config  config.Config
	Catalog *namespace.Catalog
}

// Open creates the database in a temp dir and closes it when the test ends.
func Open(t testing.TB) *DB {
	t.Helper()

	cfg := config.Config{
		Database: config.Database{
			Driver:       "sqlite",
			WriterDSN:    "file:" + filepath.Join(t.TempDir(), "erp.db"),
			MaxOpenConns: 1,
		},
		Sync: config.Sync{
			SystemUserID:      7,
			DefaultDepartment: 3,
			LockTTL:           time.Minute,
			CustomerCacheTTL:  time.Minute,
			ReserveAttempts:   3,
		},
		Namespace: config.Namespace{
			StandardPrefix: StandardPrefix,
			HerbalPrefix:   HerbalPrefix,
		},
	}
	cfg.Database.ReaderDSN = cfg.Database.WriterDSN

	conns, err := database.Open(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	migrate(t, conns.Writer)

	return &DB{Conns: conns, Config: cfg, Catalog: namespace.NewCatalog(cfg)}
}

// migrate applies the embedded ERP schema with goose.
func migrate(t testing.TB, db *bun.DB) {
	t.Helper()
	fsys, err := fs.Sub(migrations, "migrations")
	require.NoError(t, err)

	provider, err := goose.NewProvider(goosedb.DialectSQLite3, db.DB, fsys)
	require.NoError(t, err)
	results, err := provider.Up(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

// Writer returns the bun handle all test writes go through.
func (d *DB) Writer() *bun.DB {
	return d.Conns.Writer
}

// Table returns the physical name of table in ns.
func (d *DB) Table(ns namespace.Namespace, table string) string {
	return d.Catalog.Table(ns, table)
}

// Exec runs a statement and fails the test on error.
func (d *DB) Exec(t testing.TB, query string, args ...any) {
	t.Helper()
	_, err := d.Conns.Writer.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

// Count returns the number of rows in table of ns.
func (d *DB) Count(t testing.TB, ns namespace.Namespace, table string) int {
	t.Helper()
	n, err := d.Conns.Writer.NewSelect().
		TableExpr("?", bun.Safe(d.Table(ns, table))).
		Count(context.Background())
	require.NoError(t, err)
	return n
}

// Customer seeds a customer master row with one address and a territory
// that maps to the given staff.
type Customer struct {
	ID            int64
	Number        string
	DefaultPrice  string
	AddressID     int64
	TerritoryID   int64
	SalespersonID int64
	BillerID      int64
	BillerUserID  int64
}

// SeedCustomer inserts c and its joined rows into ns.
func (d *DB) SeedCustomer(t testing.TB, ns namespace.Namespace, c Customer) {
	t.Helper()
	d.Exec(t, fmt.Sprintf("INSERT INTO %s (_id, 编号, 默认销价, 换票类型, 运输方式, 记账方式) VALUES (?, ?, ?, '普票', '自提', '月结')",
		d.Table(ns, "Info_客商")), c.ID, c.Number, c.DefaultPrice)
	if c.AddressID != 0 {
		d.Exec(t, fmt.Sprintf("INSERT INTO %s (_id) VALUES (?)", d.Table(ns, "Info_收货地址")), c.AddressID)
		d.Exec(t, fmt.Sprintf("INSERT INTO %s (_pid, 收货地址) VALUES (?, ?)", d.Table(ns, "Info_客商_收货地址")), c.ID, c.AddressID)
	}
	if c.TerritoryID != 0 {
		d.Exec(t, fmt.Sprintf("INSERT INTO %s (info, tree) VALUES (?, ?)", d.Table(ns, "Tree_客商分类_info")), c.ID, c.TerritoryID)
		d.Exec(t, fmt.Sprintf("INSERT INTO %s (区域ID, 业务员ID, 开票员ID) VALUES (?, ?, ?)", d.Table(ns, "客商区域对应职员")),
			c.TerritoryID, c.SalespersonID, c.BillerID)
		d.Exec(t, fmt.Sprintf("INSERT INTO %s (职员, _userId) VALUES (?, ?)", d.Table(ns, "User__profile_职员")), c.BillerID, c.BillerUserID)
	}
}

// Batch seeds one batch of a product with its ledger row.
type Batch struct {
	ID          int64
	ProductCode string
	Code        string
	Expiry      string
	Produced    string
	Pack        float64
	OnHand      float64
	InTransit   float64
	Reserved    float64
	CostAmount  float64
	AssessPrice float64
}

// SeedBatch inserts b into ns, plus its assessment price when set.
func (d *DB) SeedBatch(t testing.TB, ns namespace.Namespace, b Batch) {
	t.Helper()
	d.Exec(t, fmt.Sprintf("INSERT INTO %s (_id, _oid, 打印批号, 效期, 生产日期) VALUES (?, ?, ?, ?, ?)", d.Table(ns, "Specific_批次商品")),
		b.ID, b.ProductCode, b.Code, b.Expiry, b.Produced)
	d.Exec(t, fmt.Sprintf("INSERT INTO %s (商品, 批次商品, 批号, 包装, 数量, 在提数量, 并发数量, 公司机构, 类型, 进价金额) VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, ?)",
		d.Table(ns, "book_商品开票库存账_WMS_sum")),
		b.ProductCode, b.ID, b.Code, b.Pack, b.OnHand, b.InTransit, b.Reserved, b.CostAmount)
	if b.AssessPrice != 0 {
		d.Exec(t, "INSERT INTO Assign_批次ABC价账 (商品, 批次商品, 公司机构, 考核价Y) VALUES (?, ?, 1, ?)",
			b.ProductCode, b.ID, b.AssessPrice)
	}
}

// SeedProduct inserts a product master row with its tax rates.
func (d *DB) SeedProduct(t testing.TB, ns namespace.Namespace, code string, taxRate, outputTaxRate float64) {
	t.Helper()
	d.Exec(t, fmt.Sprintf("INSERT INTO %s (_id, 税率, 销项税率) VALUES (?, ?, ?)", d.Table(ns, "info_商品")),
		code, taxRate, outputTaxRate)
}

// Reserved returns the reserved quantity on a batch ledger row.
func (d *DB) Reserved(t testing.TB, ns namespace.Namespace, batchID int64) decimal.Decimal {
	t.Helper()
	var reserved decimal.Decimal
	err := d.Conns.Writer.NewSelect().
		ColumnExpr("COALESCE(并发数量, 0)").
		TableExpr("?", bun.Safe(d.Table(ns, "book_商品开票库存账_WMS_sum"))).
		Where("批次商品 = ?", batchID).
		Limit(1).
		Scan(context.Background(), &reserved)
	require.NoError(t, err)
	return reserved
}

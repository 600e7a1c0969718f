// Package schema verifies that the ERP tables the sync depends on exist.
package schema

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/internal/repository/erp"
)

// Module provides the Checker to Fx.
var Module = fx.Provide(New)

// Inspector resolves and probes physical tables.
type Inspector interface {
	RequiredTables(ns namespace.Namespace) []string
	TableReachable(ctx context.Context, table string) error
}

// Checker probes every required table of both namespaces.
type Checker struct {
	inspector Inspector
	logger    *zap.Logger
}

// New constructs a Checker over the ERP repository.
func New(repo *erp.Repository, logger *zap.Logger) *Checker {
	return NewChecker(repo, logger)
}

// NewChecker constructs a Checker over any Inspector.
func NewChecker(inspector Inspector, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{inspector: inspector, logger: logger}
}

// Missing is one table that could not be queried.
type Missing struct {
	Namespace namespace.Namespace
	Table     string
	Err       error
}

// Check probes all tables and returns the ones that failed. The shared tables
// are probed once.
func (c *Checker) Check(ctx context.Context) ([]Missing, error) {
	var missing []Missing
	seen := make(map[string]bool)
	for _, ns := range []namespace.Namespace{namespace.Standard, namespace.Herbal} {
		for _, table := range c.inspector.RequiredTables(ns) {
			if seen[table] {
				continue
			}
			seen[table] = true
			if err := ctx.Err(); err != nil {
				return missing, err
			}
			if err := c.inspector.TableReachable(ctx, table); err != nil {
				c.logger.Warn("erp table unreachable",
					zap.String("namespace", ns.String()),
					zap.String("table", table),
					zap.Error(err),
				)
				missing = append(missing, Missing{Namespace: ns, Table: table, Err: err})
			}
		}
	}

	if len(missing) == 0 {
		c.logger.Info("erp schema verified", zap.Int("tables", len(seen)))
	}
	return missing, nil
}

// Verify is Check that fails when any table is missing.
func (c *Checker) Verify(ctx context.Context) error {
	missing, err := c.Check(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for _, m := range missing {
		names = append(names, m.Table)
	}
	return fmt.Errorf("erp schema incomplete: %s", strings.Join(names, ", "))
}

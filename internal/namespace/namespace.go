// Package namespace selects which of the ERP's parallel schemas an order is
// written to and resolves physical table names inside that schema.
package namespace

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/dto"
)

// Namespace identifies one physical ERP schema.
type Namespace int

const (
	Standard Namespace = iota
	Herbal
)

// Split rule that routes an order to the herbal schema.
const (
	herbalRuleNo    = 4
	herbalRuleValue = "中药饮片"
)

func (n Namespace) String() string {
	switch n {
	case Standard:
		return "standard"
	case Herbal:
		return "herbal"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

// Resolve picks the namespace for an order from its split rules. Orders with
// a herbal-pieces classification rule go to the herbal schema.
func Resolve(order *dto.Order) Namespace {
	if order == nil {
		return Standard
	}
	for _, rule := range order.SplitRules {
		if rule.RuleNo == herbalRuleNo && rule.Value == herbalRuleValue {
			return Herbal
		}
	}
	return Standard
}

// Catalog maps namespaces to table prefixes.
type Catalog struct {
	prefixes map[Namespace]string
	shared   string
}

// Module provides the catalog to Fx.
var Module = fx.Provide(NewCatalog)

// NewCatalog builds a catalog from configuration.
func NewCatalog(cfg config.Config) *Catalog {
	return &Catalog{
		prefixes: map[Namespace]string{
			Standard: cfg.Namespace.StandardPrefix,
			Herbal:   cfg.Namespace.HerbalPrefix,
		},
		shared: cfg.Namespace.SharedPrefix,
	}
}

// Table returns the physical name of table inside ns.
func (c *Catalog) Table(ns Namespace, table string) string {
	return c.prefixes[ns] + table
}

// Shared returns the physical name of a table that lives outside both
// schemas.
func (c *Catalog) Shared(table string) string {
	return c.shared + table
}

// ProductCode strips the 3-character schema marker upstream prepends to ERP
// product ids.
func ProductCode(ref string) string {
	runes := []rune(ref)
	if len(runes) <= 3 {
		return ""
	}
	return string(runes[3:])
}

package http

import (
	"go.uber.org/fx"

	synctransport "github.com/Additional-Code/erpsync/internal/transport/http/ordersync"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	synctransport.Module,
)

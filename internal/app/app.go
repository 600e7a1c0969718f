package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/erpsync/internal/cache"
	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/database"
	"github.com/Additional-Code/erpsync/internal/logger"
	"github.com/Additional-Code/erpsync/internal/messaging"
	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/internal/observability"
	"github.com/Additional-Code/erpsync/internal/repository/erp"
	grpcserver "github.com/Additional-Code/erpsync/internal/server/grpc"
	httpserver "github.com/Additional-Code/erpsync/internal/server/http"
	"github.com/Additional-Code/erpsync/internal/service/ordersync"
	transporthttp "github.com/Additional-Code/erpsync/internal/transport/http"
	"github.com/Additional-Code/erpsync/internal/upstream"
	"github.com/Additional-Code/erpsync/internal/worker"
	workerorder "github.com/Additional-Code/erpsync/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	namespace.Module,
	erp.Module,
	upstream.Module,
	ordersync.Module,
)

// HTTP wires the ops HTTP API and the gRPC health endpoint on top of the
// core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes the periodic pull and the pushed-order consumer.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the long-running daemon: ops API plus background sync.
var Module = fx.Options(
	HTTP,
	worker.Module,
	workerorder.Module,
)

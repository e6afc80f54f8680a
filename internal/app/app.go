package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/printshop/internal/auth"
	"github.com/Additional-Code/printshop/internal/cache"
	"github.com/Additional-Code/printshop/internal/changefeed"
	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/internal/database"
	"github.com/Additional-Code/printshop/internal/events"
	"github.com/Additional-Code/printshop/internal/livequery"
	"github.com/Additional-Code/printshop/internal/logger"
	"github.com/Additional-Code/printshop/internal/messaging"
	"github.com/Additional-Code/printshop/internal/objectstore"
	"github.com/Additional-Code/printshop/internal/observability"
	repositoryorder "github.com/Additional-Code/printshop/internal/repository/order"
	grpcserver "github.com/Additional-Code/printshop/internal/server/grpc"
	httpserver "github.com/Additional-Code/printshop/internal/server/http"
	"github.com/Additional-Code/printshop/internal/service/attachment"
	serviceorder "github.com/Additional-Code/printshop/internal/service/order"
	"github.com/Additional-Code/printshop/internal/service/workflow"
	storeorder "github.com/Additional-Code/printshop/internal/store/order"
	transporthttp "github.com/Additional-Code/printshop/internal/transport/http"
	"github.com/Additional-Code/printshop/internal/worker"
	workerorder "github.com/Additional-Code/printshop/internal/worker/order"
)

// Infra is the minimal graph for maintenance commands that only touch the
// database.
var Infra = fx.Options(
	config.Module,
	logger.Module,
	database.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Infra,
	cache.Module,
	changefeed.Module,
	messaging.Module,
	events.Module,
	observability.Module,
	repositoryorder.Module,
	storeorder.Module,
	serviceorder.Module,
	workflow.Module,
	objectstore.Module,
	attachment.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	auth.Module,
	livequery.Module,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP

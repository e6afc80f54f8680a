package http

import (
	"go.uber.org/fx"

	authtransport "github.com/Additional-Code/printshop/internal/transport/http/auth"
	feedtransport "github.com/Additional-Code/printshop/internal/transport/http/feed"
	ordertransport "github.com/Additional-Code/printshop/internal/transport/http/order"
	stafftransport "github.com/Additional-Code/printshop/internal/transport/http/staff"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	authtransport.Module,
	stafftransport.Module,
	feedtransport.Module,
)

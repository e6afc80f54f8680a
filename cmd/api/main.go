package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/printshop/internal/app"
	"github.com/Additional-Code/printshop/internal/logger"
)

// api serves the storefront and staff HTTP/gRPC surfaces. Background
// processing runs separately under `printshop worker`.
func main() {
	fx.New(
		app.HTTP,
		logger.EventLogger,
	).Run()
}

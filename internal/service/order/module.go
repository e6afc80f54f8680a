package order

import "go.uber.org/fx"

// Module provides the intake service to Fx.
var Module = fx.Provide(NewService)

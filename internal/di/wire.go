//go:build wireinject
// +build wireinject

package di

import (
	"OrbWatch/pkg/config"
	"OrbWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideSharedCache,
		ProvideBarBackend,
		ProvideStateStore,
		ProvideAlertSink,

		// Pipeline
		ProvideDetector,
		ProvideSelector,
		ProvideTargetCalculator,
		ProvideLifecycle,
		ProvideEngine,
		ProvideBuilder,

		// HTTP
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

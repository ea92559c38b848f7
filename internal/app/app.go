// Package app provides application initialization and dependency wiring.
//
// App is the container holding every long-lived component: the database
// pool, the Genkit instance, the stores and services, and the HTTP server.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dorainsight/dora/api"
	"github.com/dorainsight/dora/internal/chat"
	"github.com/dorainsight/dora/internal/config"
	"github.com/dorainsight/dora/internal/integration"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool         *pgxpool.Pool
	Genkit       *genkit.Genkit
	Store        *store.Store
	Integrations *integration.Service
	Chat         *chat.Service
	Server       *api.Server

	// Lifecycle management
	otelCleanup func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

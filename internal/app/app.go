// Package app assembles the application: configuration in,
// fully-wired components out. Wiring is explicit and hand-written;
// every component receives its collaborators and logger through its
// constructor.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpinsight/rpinsight/internal/config"
	"github.com/rpinsight/rpinsight/internal/datasync"
	"github.com/rpinsight/rpinsight/internal/log"
	"github.com/rpinsight/rpinsight/internal/rag"
	"github.com/rpinsight/rpinsight/internal/store"
)

// App holds the wired application components.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	DBPool       *pgxpool.Pool
	Store        *store.Store
	Orchestrator *datasync.Orchestrator
	Pipeline     *rag.Pipeline

	otelCleanup func()
}

// Close releases everything Setup initialized. Safe to call on a
// partially-initialized App.
func (a *App) Close() {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.DBPool = nil
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}
}

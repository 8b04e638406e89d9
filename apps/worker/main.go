package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ensmarket/internal/chain"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/smallbiznis/ensmarket/internal/intent"
	"github.com/smallbiznis/ensmarket/internal/lock"
	"github.com/smallbiznis/ensmarket/internal/observability"
	"github.com/smallbiznis/ensmarket/internal/reconcile"
	"github.com/smallbiznis/ensmarket/internal/server"
	"github.com/smallbiznis/ensmarket/internal/watcher"
	"github.com/smallbiznis/ensmarket/internal/webhook"
	"github.com/smallbiznis/ensmarket/internal/worker"
	"github.com/smallbiznis/ensmarket/pkg/db"
	"go.uber.org/fx"
)

// The worker process runs the scheduled jobs only. Schema migrations are
// left to the API process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the jobs
		intent.Module,
		webhook.Module,
		chain.Module,
		lock.Module,
		reconcile.Module,
		watcher.Module,
		worker.Module,

		// No API routes, only /health and /metrics.
		server.HealthModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

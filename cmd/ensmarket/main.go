package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ensmarket/internal/chain"
	"github.com/smallbiznis/ensmarket/internal/clock"
	"github.com/smallbiznis/ensmarket/internal/config"
	"github.com/smallbiznis/ensmarket/internal/intent"
	"github.com/smallbiznis/ensmarket/internal/lock"
	"github.com/smallbiznis/ensmarket/internal/migration"
	"github.com/smallbiznis/ensmarket/internal/observability"
	"github.com/smallbiznis/ensmarket/internal/reconcile"
	"github.com/smallbiznis/ensmarket/internal/server"
	"github.com/smallbiznis/ensmarket/internal/watcher"
	"github.com/smallbiznis/ensmarket/internal/webhook"
	"github.com/smallbiznis/ensmarket/internal/worker"
	"github.com/smallbiznis/ensmarket/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		intent.Module,
		webhook.Module,
		chain.Module,
		lock.Module,
		reconcile.Module,
		watcher.Module,
		worker.Module,

		// Webhook ingress, intent API and internal ops routes.
		// Scheduled jobs follow WORKER_ENABLED.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

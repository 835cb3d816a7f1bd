package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/internal/clock"
	"github.com/smallbiznis/tokenlens/internal/config"
	"github.com/smallbiznis/tokenlens/internal/migration"
	"github.com/smallbiznis/tokenlens/internal/observability"
	"github.com/smallbiznis/tokenlens/internal/server"
	"github.com/smallbiznis/tokenlens/pkg/db"
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

		// Dashboard, import and CRUD routes
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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/internal/clock"
	"github.com/smallbiznis/tokenlens/internal/config"
	"github.com/smallbiznis/tokenlens/internal/dataimport"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/smallbiznis/tokenlens/internal/migration"
	"github.com/smallbiznis/tokenlens/internal/observability"
	"github.com/smallbiznis/tokenlens/internal/transaction"
	"github.com/smallbiznis/tokenlens/internal/user"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"go.uber.org/fx"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	usersPath := flag.String("users", "", "path to the users CSV")
	transactionsPath := flag.String("transactions", "", "path to the transactions CSV")
	startTimeout := flag.Duration("start-timeout", 30*time.Second, "time allowed to connect and migrate")
	flag.Parse()

	if *usersPath == "" && *transactionsPath == "" {
		log.Printf("at least one of -users or -transactions is required")
		flag.Usage()
		exitCode = 2
		return
	}

	var svc importdomain.Service
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		user.Module,
		transaction.Module,
		dataimport.Module,
		fx.Populate(&svc),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), *startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Printf("failed to start: %v", err)
		exitCode = 1
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Printf("failed to stop cleanly: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runImport(ctx, svc, *usersPath, *transactionsPath)
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			log.Printf("failed to write result: %v", encErr)
		}
	}
	if err != nil {
		log.Printf("import failed: %v", err)
		exitCode = 1
	}
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

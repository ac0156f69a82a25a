// Command durexec runs the exchange execution engine: it wires the
// store, event bus, approval service, route engine, and crash recovery
// service together, registers the built-in routes, and serves the REST
// API. Flag parsing and the colorized startup banner follow the usual
// fatih/color CLI pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/llmconfig"
	"github.com/chiefkemist/dur-exec-wf-ai/recovery"
	"github.com/chiefkemist/dur-exec-wf-ai/restapi"
	"github.com/chiefkemist/dur-exec-wf-ai/routes"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		dsn        = flag.String("postgres-dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (empty uses the in-memory store)")
		configPath = flag.String("routes-config", "", "path to a YAML route-tunables file (optional)")
		jsonLogs   = flag.Bool("json-logs", false, "emit structured JSON logs instead of colorized console logs")
	)
	flag.Parse()

	logger := engine.NewLogger()
	if *jsonLogs {
		logger = engine.NewJSONLogger()
	}
	slog.SetDefault(logger)

	color.Cyan("Durable Exchange Execution Engine")

	routeCfg := routes.DefaultConfig()
	if *configPath != "" {
		loaded, err := routes.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load routes config: %v", err)
		}
		routeCfg = loaded
		color.Blue("Route config: %s", *configPath)
	}

	var db store.Store
	if *dsn != "" {
		pg, err := store.OpenPostgres(*dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		defer pg.Close()
		db = pg
		color.Blue("Store: postgres")
	} else {
		db = store.NewMemory()
		color.Yellow("Store: in-memory (set -postgres-dsn or $DATABASE_URL for durability)")
	}

	bus := eventbus.New(logger)
	states := engine.NewExchangeStateManager(db, bus, logger)
	approvals := engine.NewApprovalService(db, bus, states, logger)
	routeEngine := engine.NewRouteEngine(states, approvals, db, bus, logger)

	routeEngine.RegisterRoute(routes.Echo())
	routeEngine.RegisterRoute(routes.Timer())

	if llmCfg, err := llmconfig.FromEnv(); err != nil {
		color.Yellow("LLM chat route disabled: %v", err)
	} else {
		llmClient := llmconfig.NewClient(llmCfg, "")
		routeEngine.RegisterRoute(routes.ChatDurable(llmClient, routeCfg))
		color.Blue("LLM chat route enabled (model %s)", llmCfg.ModelName)
	}

	recoverySvc := recovery.New(db, bus, states, approvals, routeEngine, logger)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := recoverySvc.OnStartup(startupCtx); err != nil {
		log.Fatalf("crash recovery startup scan failed: %v", err)
	}
	startupCancel()

	runCtx, stopRecovery := context.WithCancel(context.Background())
	defer stopRecovery()
	recoverySvc.Start(runCtx)
	defer recoverySvc.Stop()

	server := restapi.New(routeEngine, states, approvals, db, bus, logger)
	router := server.SetupRoutes()

	color.Green("Listening on %s", *addr)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(*addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server exited: %v", err)
		}
	case <-sigCtx.Done():
		fmt.Println()
		color.Yellow("Shutting down...")
	}
}

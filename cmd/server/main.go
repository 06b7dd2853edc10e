package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/duskworks/coopcore/pkg/api"
	"github.com/duskworks/coopcore/pkg/config"
	"github.com/duskworks/coopcore/pkg/core"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/messages"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/queue"
	"github.com/duskworks/coopcore/pkg/servers"
	"github.com/duskworks/coopcore/pkg/store"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/duskworks/coopcore/pkg/version"
	"github.com/duskworks/coopcore/pkg/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	listenAddr := flag.String("listen-addr", "", "Game listener address (overrides config)")
	adminAddr := flag.String("admin-addr", "", "Admin API address (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting coop server version %s", version.Get())

	cfg := config.Defaults()
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load config: %v", err))
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := cfg.DatabaseURL
	if connStr == "" {
		connStr = os.Getenv("COOPCORE_DATABASE_URL")
	}
	if connStr == "" {
		connStr = "sqlite://coopcore.db"
	}

	u, err := url.Parse(connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse connection string: %v", err))
	}

	var repository store.Repository
	switch u.Scheme {
	case "sqlite":
		repository, err = store.NewSQLiteRepository(ctx, u.Host, "./migrations/sqlite")
		if err != nil {
			panic(fmt.Sprintf("Failed to create SQLite repository: %v", err))
		}
	case "postgresql":
		repository = store.NewPostgresRepository(ctx, u.String())
	case "memory":
		repository = store.NewInMemoryRepository()
	default:
		panic(fmt.Sprintf("Unknown database type %s", u.Scheme))
	}
	defer repository.Close(context.Background())

	registry := metrics.NewRegistry()
	inboundQueue := queue.NewInMemoryQueue(10000)

	manager, err := core.NewManager(core.NewManagerOptions{
		Repository:   repository,
		InboundQueue: inboundQueue,
		Metrics:      registry,
		Locations:    cfg.Locations,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create manager: %v", err))
	}

	codec, err := messages.NewCodec()
	if err != nil {
		panic(fmt.Sprintf("Failed to create codec: %v", err))
	}

	peerManager := servers.NewPeerManager(servers.NewPeerManagerOptions{
		Codec:   codec,
		Metrics: registry,
	})
	manager.Dispatcher().RegisterObserver(peerManager)

	wsServer := servers.NewWSServer(servers.NewWSServerOptions{
		Addr:         cfg.ListenAddr,
		Peers:        peerManager,
		Codec:        codec,
		InboundQueue: inboundQueue,
		OnDisconnect: func(peerID types.PeerID) {
			manager.Fabric().Leave(peerID, "connection closed")
		},
	})

	persistenceWorker := workers.NewPersistenceWorker(workers.NewPersistenceWorkerOptions{
		Repository: repository,
		SaveChan:   manager.SaveRequests(),
		TxnChan:    manager.TransactionRecords(),
		Metrics:    registry,
	})

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Addr:       cfg.AdminAddr,
		Fabric:     manager.Fabric(),
		Instances:  manager.Instances(),
		Peers:      peerManager,
		Repository: repository,
		Metrics:    registry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsServer.Start(gctx) })
	g.Go(func() error {
		persistenceWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			apiServer.Stop(context.Background())
		}()
		return apiServer.Start()
	})
	g.Go(func() error {
		log.Info("Starting core manager")
		return manager.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		panic(fmt.Sprintf("Server error: %v", err))
	}
}

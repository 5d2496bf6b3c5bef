// Package main is cisd, the CIS node process entry point: it wires every
// constructor-built component (config, logger, persistence, identity,
// scheduler, executor, agent pool, DHT node/transport/server, service
// facade, CLI) together with no package-level singletons, per spec.md
// §9 "Global state" — mirroring the teacher's cmd/gateway/main.go wiring
// style even though that file itself was deleted as gateway-specific.
package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/application/executor"
	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/application/service"
	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/internal/domain/memory"
	"github.com/cis-project/cis/internal/domain/memory/guard"
	"github.com/cis-project/cis/internal/domain/sandbox"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	"github.com/cis-project/cis/internal/infrastructure/config"
	"github.com/cis-project/cis/internal/infrastructure/cryptoid"
	"github.com/cis-project/cis/internal/infrastructure/dht"
	"github.com/cis-project/cis/internal/infrastructure/eventbus"
	"github.com/cis-project/cis/internal/infrastructure/logger"
	"github.com/cis-project/cis/internal/infrastructure/persistence"
	"github.com/cis-project/cis/internal/infrastructure/wasmhost"
	"github.com/cis-project/cis/internal/interfaces/cli"
)

// app bundles every long-lived component cisd builds at startup, so that
// main and tests share one construction path instead of duplicating it.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *persistence.DagRunRepository
	identity  *cryptoid.Identity
	scheduler *scheduler.Scheduler
	pool      *agentpool.Pool
	executor  *executor.Executor
	node      *dht.Node
	dhtServer *dht.Server
	services  *cli.Services
}

// agentSpawner treats the requested agent kind as the executable name
// directly (agentKind "claude" execs a "claude" binary on PATH). The
// agentpool/executor tests substitute a spawner that runs "cat" whatever
// the kind.
func agentSpawner(ctx context.Context, agentKind, workspaceDir string) (*agentpool.Process, error) {
	return agentpool.StartProcess(ctx, agentKind, nil, workspaceDir, nil)
}

// newApp constructs every component from cfg without opening a listener
// or starting the DHT server (the event bus does start its own dispatch
// goroutine) — callers decide separately
// whether to call (*app).run, so tests can build an app and drive its
// services directly without a live DHT listener.
func newApp(cfg *config.Config) (*app, error) {
	zlog, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	identity, err := cryptoid.Load(cfg.Node.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load node identity: %w", err)
	}

	gormDB, err := persistence.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dagRunRepo := persistence.NewDagRunRepository(gormDB)

	bus := eventbus.NewInMemoryBus(zlog, 256)
	sched := scheduler.New(service.NewSchedulerRepository(dagRunRepo), bus, zlog)

	pool := agentpool.NewPool(cfg.Session.MaxAgents, agentSpawner, zlog)

	sandboxPolicy := &sandbox.Policy{
		WritableRoots: cfg.Sandbox.WritableRoots,
		ReadableRoots: cfg.Sandbox.ReadableRoots,
		AllowSymlinks: cfg.Sandbox.AllowSymlinks,
	}
	pool.SetSandbox(sandboxPolicy, cfg.Sandbox.MaxFD)

	store := memory.NewStore(identity.NodeID.String())
	store.SetEncryptor(cryptoid.NewPrivateBox(identity))
	cg := guard.New(store)

	skillRunner := &wasmhost.Runner{
		Loader: wasmhost.FileSkillLoader{Dir: filepath.Join(cfg.Node.DataDir, "skills")},
		Guard:  cg,
		Policy: *sandboxPolicy,
		Writer: wasmhost.StoreWriter{Store: store, Domain: memory.Public},
		Logger: zlog,
		MaxFD:  cfg.Sandbox.MaxFD,
	}
	var skillFDCount atomic.Uint32
	skillRunner.FDCount = &skillFDCount

	execCfg := executor.Config{
		DefaultRuntime:         cfg.Session.DefaultRuntime,
		MaxConcurrentTasks:     cfg.Scheduler.MaxConcurrentTasks,
		TaskTimeout:            cfg.Scheduler.TaskTimeout,
		EnableContextInjection: cfg.Scheduler.EnableContextInject,
		SchedulingMode:         executor.Mode(cfg.Scheduler.SchedulingMode),
		PollInterval:           cfg.Scheduler.PollInterval,
	}
	exec := executor.New(execCfg, sched, pool, cg, bus, nil, nil, skillRunner, zlog)

	table := kademlia.NewRoutingTable(identity.NodeID)
	storage := dht.NewLocalStorage(cfg.DHT.DefaultTTL)
	priv, pub := identity.X25519KeyPair()
	transport := dht.NewCryptoTransport(priv, pub, nil)
	alpha := cfg.DHT.Alpha
	if alpha <= 0 {
		alpha = 3
	}
	node := dht.NewNode(identity.NodeID, table, storage, transport, alpha, cfg.DHT.DefaultTTL, zlog)
	dhtServer := dht.NewServer(node, priv, pub, zlog)

	services := &cli.Services{
		Dag:    service.NewDagService(sched, exec, pool, dagRunRepo),
		Task:   service.NewTaskService(sched, pool),
		Node:   service.NewNodeService(node),
		Worker: service.NewWorkerService(pool),
	}

	return &app{
		cfg:       cfg,
		logger:    zlog,
		db:        dagRunRepo,
		identity:  identity,
		scheduler: sched,
		pool:      pool,
		executor:  exec,
		node:      node,
		dhtServer: dhtServer,
		services:  services,
	}, nil
}

// run rehydrates non-terminal runs and starts the DHT server listening on
// cfg.DHT.ListenAddr in the background, returning a stop func the caller
// must invoke before process exit.
func (a *app) run(ctx context.Context) (stop func(), err error) {
	if err := a.scheduler.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore scheduler state: %w", err)
	}

	ln, err := net.Listen("tcp", a.cfg.DHT.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on dht address %s: %w", a.cfg.DHT.ListenAddr, err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := a.dhtServer.Serve(serveCtx, ln); err != nil {
			a.logger.Warn("dht server stopped", zap.Error(err))
		}
	}()

	stop = func() {
		cancel()
		a.pool.Shutdown()
		_ = a.logger.Sync()
	}
	return stop, nil
}

package infrastructure

import (
	"context"

	"ecopoints/internal/config"
	"ecopoints/internal/repository"
	"ecopoints/internal/service"
	transportHTTP "ecopoints/internal/transport/http"
	transportNATS "ecopoints/internal/transport/nats"
	"ecopoints/internal/worker"

	"github.com/nats-io/nats.go"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Every handle is constructed here and passed down — nothing
// in the service holds process-wide state. Returns the App, a cleanup
// function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	store := repository.NewPostgres(db, rdb)

	// NATS is optional: without it the bus stays nil and only the HTTP
	// transport runs.
	var nc *nats.Conn
	var bus repository.MessageBus
	if addr, natsErr := cfg.NatsAddr(); natsErr == nil {
		nc, err = connectNats(addr)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		bus = transportNATS.NewBus(nc)
		cleanupFns = append(cleanupFns, nc.Close)
	}

	var svc service.RewardsService = service.NewEngine(store, bus, cfg.MachineSecret)

	var servers []Server
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc))
		servers = append(servers, worker.NewBalanceSyncWorker(svc, nc))
	}
	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), svc))

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}

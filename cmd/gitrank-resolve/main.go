// Command gitrank-resolve runs the identity resolution worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/module"
	"gitrank/internal/modkit/repokit"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/store"

	catalogmod "gitrank/internal/services/catalog/module"
	queuemod "gitrank/internal/services/queue/module"
	resolvemod "gitrank/internal/services/resolve/module"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")

	l := logger.Get()

	var (
		fConc      = flag.Int("concurrency", 2, "worker concurrency")
		fThreshold = flag.Int("rate_threshold", 0, "remaining-call safety floor (0 = from env)")
		fRetries   = flag.Int("lookup_retries", 0, "transient retries per identifier (0 = from env)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-resolve",
		PG: store.PGConfig{
			Enabled:     true,
			URL:         dbCfg.MustString("DBURL"),
			MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			LogSQL:      dbCfg.MayBool("LOG_SQL", false),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(ctx); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(ctx, st)

	deps := modkit.Deps{Cfg: root, PG: st.PG, Log: *l}

	mustSetEnv("PIPELINE_RESOLVE_CONCURRENCY", fmt.Sprintf("%d", *fConc))

	qmod := queuemod.New(deps)
	module.Register(qmod.Name(), qmod.Ports())
	qports := module.MustPortsOf[queuemod.Ports](qmod)

	cmod := catalogmod.New(deps, qports.Enqueuer)
	module.Register(cmod.Name(), cmod.Ports())
	cports := module.MustPortsOf[catalogmod.Ports](cmod)

	rmod := resolvemod.New(deps, resolvemod.Options{
		Concurrency:         *fConc,
		RateSafetyThreshold: *fThreshold,
		LookupRetries:       *fRetries,
	}, qports.Consumer, qports.Inspector, cports.Lifecycle)
	module.Register(rmod.Name(), rmod.Ports())

	ports := module.MustPortsOf[resolvemod.Ports](rmod)

	l.Info().Time("started_at", time.Now().UTC()).Msg("resolve worker starting")
	if err := ports.Worker.Run(ctx); err != nil && err != context.Canceled {
		l.Fatal().Err(err).Msg("resolve worker failed")
	}
}

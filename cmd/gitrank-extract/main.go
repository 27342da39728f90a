// Command gitrank-extract runs the commit extraction worker
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
	extractmod "gitrank/internal/services/extract/module"
	queuemod "gitrank/internal/services/queue/module"
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
		fMaxSize   = flag.Int64("max_size_bytes", 0, "repository size admission limit (0 = from env)")
		fMaxCommit = flag.Int64("max_commits", 0, "commit count admission limit (0 = from env)")
		fBatchSize = flag.Int("identity_batch", 0, "authors per identity batch (0 = from env)")
		fConc      = flag.Int("concurrency", 2, "worker concurrency")
		fGitRoot   = flag.String("git_root", "", "directory for bare clones (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-extract",
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

	mustSetEnv("PIPELINE_EXTRACT_CONCURRENCY", fmt.Sprintf("%d", *fConc))
	mustSetEnv("PIPELINE_GIT_ROOT", *fGitRoot)

	qmod := queuemod.New(deps)
	module.Register(qmod.Name(), qmod.Ports())
	qports := module.MustPortsOf[queuemod.Ports](qmod)

	cmod := catalogmod.New(deps, qports.Enqueuer)
	module.Register(cmod.Name(), cmod.Ports())
	cports := module.MustPortsOf[catalogmod.Ports](cmod)

	xmod := extractmod.New(deps, extractmod.Options{
		MaxRepoSizeBytes:  *fMaxSize,
		MaxCommitCount:    *fMaxCommit,
		IdentityBatchSize: *fBatchSize,
		Concurrency:       *fConc,
		GitRoot:           *fGitRoot,
	}, qports.Consumer, qports.Enqueuer, qports.Inspector, cports.Lifecycle)
	module.Register(xmod.Name(), xmod.Ports())

	ports := module.MustPortsOf[extractmod.Ports](xmod)

	l.Info().Time("started_at", time.Now().UTC()).Msg("extract worker starting")
	if err := ports.Worker.Run(ctx); err != nil && err != context.Canceled {
		l.Fatal().Err(err).Msg("extract worker failed")
	}
}

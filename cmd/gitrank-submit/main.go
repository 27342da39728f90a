// Command gitrank-submit admits a repository into the ingestion pipeline or
// prints a repository's contributor leaderboard
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/module"
	"gitrank/internal/modkit/repokit"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/store"

	catalogdom "gitrank/internal/services/catalog/domain"
	catalogmod "gitrank/internal/services/catalog/module"
	queuemod "gitrank/internal/services/queue/module"
)

func main() {
	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")

	l := logger.Get()

	var (
		fURL        = flag.String("url", "", "repository url to submit")
		fCredential = flag.String("credential", "", "access credential for private repositories (optional)")
		fBoard      = flag.Int64("leaderboard", 0, "print the leaderboard for a repository id instead of submitting")
	)
	flag.Parse()

	if *fURL == "" && *fBoard == 0 {
		fmt.Fprintln(os.Stderr, "usage: gitrank-submit -url <repo url> [-credential <token>] | -leaderboard <repo id>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-submit",
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

	qmod := queuemod.New(deps)
	module.Register(qmod.Name(), qmod.Ports())
	qports := module.MustPortsOf[queuemod.Ports](qmod)

	cmod := catalogmod.New(deps, qports.Enqueuer)
	module.Register(cmod.Name(), cmod.Ports())
	cports := module.MustPortsOf[catalogmod.Ports](cmod)

	if *fBoard != 0 {
		printLeaderboard(ctx, l, cports.Catalog, *fBoard)
		return
	}

	r, err := cports.Catalog.Submit(ctx, catalogdom.Submission{URL: *fURL, Credential: *fCredential})
	if err != nil {
		l.Fatal().Err(err).Msg("submission failed")
	}
	fmt.Printf("repository %d (%s) state=%s\n", r.ID, r.URL, r.State)
}

func printLeaderboard(ctx context.Context, l *logger.Logger, catalog catalogdom.CatalogPort, repoID int64) {
	rows, err := catalog.Leaderboard(ctx, repoID)
	if err != nil {
		l.Fatal().Err(err).Int64("repo_id", repoID).Msg("leaderboard failed")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCONTRIBUTOR\tCOMMITS\tPROFILE")
	for _, row := range rows {
		name := row.Login
		if !row.Resolved {
			name = row.Email
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", row.Rank, name, row.Commits, row.Profile)
	}
	_ = w.Flush()
}

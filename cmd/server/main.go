package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/volgapavel/parsAZ/internal/server"
	"github.com/volgapavel/parsAZ/internal/util"
	"github.com/volgapavel/parsAZ/pkg/graph"
	"github.com/volgapavel/parsAZ/pkg/logger"
	"github.com/volgapavel/parsAZ/pkg/logger/console"
	"github.com/volgapavel/parsAZ/pkg/store"
	"github.com/volgapavel/parsAZ/pkg/store/memory"
	pgxstore "github.com/volgapavel/parsAZ/pkg/store/pgx"
)

func main() {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, cleanup := openStorage(ctx)
	defer cleanup()

	params := graph.DefaultParams()
	params.StopNeighbors = util.GetEnvList("STOP_NEIGHBORS")

	srv := server.New(server.Params{
		Address:  util.GetEnvString("HTTP_ADDRESS", ":8080"),
		Storage:  storage,
		Searcher: graph.NewSearcher(storage, params),
	})
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server stopped", "error", err)
	}
}

func openStorage(ctx context.Context) (store.GraphStorage, func()) {
	databaseURL := util.GetEnv("DATABASE_URL")
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory graph store")
		return memory.NewStore(), func() {}
	}
	s, err := pgxstore.NewStore(ctx, databaseURL)
	if err != nil {
		logger.Fatal("failed to open graph database", "error", err)
	}
	logger.Info("connected to graph database")
	return s, s.Close
}

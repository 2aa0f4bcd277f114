package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/config"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
	"github.com/animus-labs/attribution-runner/internal/platform/postgres"
	repopg "github.com/animus-labs/attribution-runner/internal/repo/postgres"
	"github.com/animus-labs/attribution-runner/internal/storage/objectstore"
)

const bucketCheckTimeout = 5 * time.Second

// newInputs returns an opener for local paths, backed by the object store for
// s3:// inputs when one is configured. The bucket of a remote inputPath is
// checked up front.
func newInputs(ctx context.Context, cfg config.Config, inputPath string) (*objectstore.Opener, error) {
	if !cfg.ObjectStore.Enabled() {
		return objectstore.NewOpener(nil), nil
	}
	store, err := objectstore.NewMinioStore(cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("object store client init failed: %w", err)
	}
	if strings.TrimSpace(inputPath) != "" {
		loc, err := objectstore.ParseLocation(inputPath)
		if err != nil {
			return nil, err
		}
		if loc.Remote() {
			checkCtx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
			defer cancel()
			if err := store.CheckBucket(checkCtx, loc.Bucket); err != nil {
				return nil, fmt.Errorf("object store unavailable: %w", err)
			}
		}
	}
	return objectstore.NewOpener(store), nil
}

// newCatalog extends the built-in flows with the optional flows file.
func newCatalog(cfg config.Config) (*stageflow.Catalog, error) {
	catalog := stageflow.DefaultCatalog()
	path := strings.TrimSpace(cfg.Run.FlowsFile)
	if path == "" {
		return catalog, nil
	}
	flows, err := stageflow.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return catalog.With(flows...)
}

// openLedger opens the stage-attempt ledger. It returns a nil store when no
// database is configured.
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (*repopg.StageAttemptStore, func(), error) {
	if !cfg.Database.Enabled() {
		return nil, func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database unavailable: %w", err)
	}
	closeDB := func() { closeQuietly(db, logger) }
	store := repopg.NewStageAttemptStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return store, closeDB, nil
}

func closeQuietly(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close database", "error", err)
	}
}

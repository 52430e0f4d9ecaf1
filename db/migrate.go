package db

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"disputeflow/migrations"
)

// Migrate applies every pending migration and returns the resulting schema
// version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (int64, error) {
	return migrate(ctx, pool, migrations.FS, logger)
}

func migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS, logger *zap.Logger) (int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	goose.SetBaseFS(files)
	goose.SetLogger(gooseLogger{logger.Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("db: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return 0, fmt.Errorf("db: migrate: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("db: schema version: %w", err)
	}
	logger.Info("schema migrated", zap.Int64("version", version))
	return version, nil
}

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.s.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }

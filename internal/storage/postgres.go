package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "xposter/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresDDL string

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &sqlStore{db: db, log: log, d: dialect{
		name:     "postgres",
		numbered: true,
		timeArg:  func(t time.Time) any { return t.UTC() },
	}}
	if err := st.migrate(ctx, postgresDDL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

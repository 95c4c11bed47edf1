package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// store runs queries through the resilient gateway. Queries use '?' placeholders and are
// rebound for the active driver.
type store struct {
	gw *database.Gateway
}

func (s store) selectAll(ctx context.Context, label string, dest func() interface{}, query string, args ...interface{}) error {
	return s.gw.Do(ctx, label, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, dest(), db.Rebind(query), args...)
	})
}

func (s store) get(ctx context.Context, label string, dest interface{}, query string, args ...interface{}) error {
	return s.gw.Do(ctx, label, func(ctx context.Context, db *sqlx.DB) error {
		return db.GetContext(ctx, dest, db.Rebind(query), args...)
	})
}

func (s store) exec(ctx context.Context, label, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := s.gw.Do(ctx, label, func(ctx context.Context, db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, db.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

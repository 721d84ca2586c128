package mysql

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
)

func (ds *Datastore) Settings(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := sqlx.SelectContext(ctx, ds.reader, &rows, "SELECT `key`, `value` FROM settings"); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select settings")
	}

	settings := make(map[string]string, len(rows))
	for _, r := range rows {
		settings[r.Key] = r.Value
	}
	return settings, nil
}

func (ds *Datastore) SetSetting(ctx context.Context, key, value string) error {
	err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO settings (`key`, `value`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)",
			key, value,
		)
		return err
	})
	if err != nil {
		return ctxerr.Wrap(ctx, err, "set setting")
	}
	return nil
}

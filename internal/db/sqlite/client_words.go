package sqlite

import (
	"context"
)

func (c *sqliteClient) AddWordHits(ctx context.Context, listID string, hits map[string]int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO word_hits (list_id, pattern, hits)
		VALUES (?, ?, ?)
		ON CONFLICT(list_id, pattern) DO UPDATE SET hits = hits + excluded.hits;
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for pattern, count := range hits {
		if count == 0 {
			continue
		}
		if _, err = stmt.ExecContext(ctx, listID, pattern, count); err != nil {
			return err
		}
	}

	return tx.Commit()
}

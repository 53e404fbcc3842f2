package sqlite

import (
	"context"

	"github.com/iamwavecut/langwarden/internal/db"
)

func (c *sqliteClient) GetLedgerEntries(ctx context.Context) ([]db.LedgerEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var entries []db.LedgerEntry
	err := c.db.SelectContext(ctx, &entries, "SELECT user_id, detected, score, joined, updated_at FROM ledger_entries")
	return entries, err
}

func (c *sqliteClient) UpsertLedgerEntry(ctx context.Context, entry *db.LedgerEntry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO ledger_entries (user_id, detected, score, joined, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
		detected=excluded.detected,
		score=excluded.score,
		joined=excluded.joined,
		updated_at=excluded.updated_at;
	`
	_, err := c.db.ExecContext(ctx, query, entry.UserID, entry.Detected, entry.Score, entry.Joined)
	return err
}

func (c *sqliteClient) GetWatchRows(ctx context.Context) ([]db.WatchRow, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []db.WatchRow
	err := c.db.SelectContext(ctx, &rows, "SELECT tier, user_id, until_unix FROM watch_entries")
	return rows, err
}

func (c *sqliteClient) UpsertWatchRow(ctx context.Context, row db.WatchRow) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO watch_entries (tier, user_id, until_unix)
		VALUES (?, ?, ?)
		ON CONFLICT(tier, user_id) DO UPDATE SET until_unix=excluded.until_unix;
	`
	_, err := c.db.ExecContext(ctx, query, row.Tier, row.UserID, row.UntilUnix)
	return err
}

func (c *sqliteClient) GetBlockRows(ctx context.Context) ([]db.BlockRow, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []db.BlockRow
	err := c.db.SelectContext(ctx, &rows, "SELECT kind, entry_id FROM block_entries")
	return rows, err
}

func (c *sqliteClient) InsertBlockRow(ctx context.Context, row db.BlockRow) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, "INSERT OR IGNORE INTO block_entries (kind, entry_id) VALUES (?, ?)", row.Kind, row.EntryID)
	return err
}

func (c *sqliteClient) GetExceptRows(ctx context.Context) ([]db.ExceptRow, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []db.ExceptRow
	err := c.db.SelectContext(ctx, &rows, "SELECT kind, value FROM except_entries")
	return rows, err
}

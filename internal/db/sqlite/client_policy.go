package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/langwarden/internal/db"
)

func (c *sqliteClient) GetGroupPolicy(ctx context.Context, groupID int64) (db.GroupPolicy, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var row db.GroupPolicyRow
	err := c.db.GetContext(ctx, &row, "SELECT group_id, policy, updated_at FROM group_policies WHERE group_id = ?", groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.Policy, nil
}

func (c *sqliteClient) SetGroupPolicy(ctx context.Context, groupID int64, policy db.GroupPolicy) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO group_policies (group_id, policy, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(group_id) DO UPDATE SET
		policy=excluded.policy,
		updated_at=excluded.updated_at;
	`
	return tool.Err(c.db.ExecContext(ctx, query, groupID, policy))
}

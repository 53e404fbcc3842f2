package db

import "context"

type Client interface {
	Close() error

	GetGroupPolicy(ctx context.Context, groupID int64) (GroupPolicy, error)
	SetGroupPolicy(ctx context.Context, groupID int64, policy GroupPolicy) error

	GetLedgerEntries(ctx context.Context) ([]LedgerEntry, error)
	UpsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error

	GetWatchRows(ctx context.Context) ([]WatchRow, error)
	UpsertWatchRow(ctx context.Context, row WatchRow) error

	GetBlockRows(ctx context.Context) ([]BlockRow, error)
	InsertBlockRow(ctx context.Context, row BlockRow) error

	GetExceptRows(ctx context.Context) ([]ExceptRow, error)

	AddWordHits(ctx context.Context, listID string, hits map[string]int64) error
}

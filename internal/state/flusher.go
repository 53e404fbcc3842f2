package state

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/db"
)

const flushInterval = 30 * time.Second

// Flusher periodically persists dirty ledger entries and the live watch list.
// Persistence is best effort; a failed flush is retried on the next tick with
// the still-dirty entries.
type Flusher struct {
	store  *Store
	client db.Client

	mutex   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	enabled bool
}

func NewFlusher(store *Store, client db.Client) *Flusher {
	return &Flusher{store: store, client: client}
}

func (f *Flusher) Start(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.enabled {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.enabled = true
	go f.run(runCtx)
	return nil
}

func (f *Flusher) Stop(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.enabled {
		return nil
	}
	f.cancel()
	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	f.enabled = false
	f.flush(context.Background())
	return nil
}

func (f *Flusher) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

func (f *Flusher) flush(ctx context.Context) {
	for _, row := range f.store.Ledger().Snapshot() {
		if err := f.client.UpsertLedgerEntry(ctx, &row); err != nil {
			log.WithError(err).WithField("user_id", row.UserID).Error("cant persist ledger entry")
			f.store.Ledger().markDirty(row.UserID)
		}
	}
	for tier, users := range f.store.WatchSnapshot() {
		for userID, until := range users {
			row := db.WatchRow{Tier: string(tier), UserID: userID, UntilUnix: until.Unix()}
			if err := f.client.UpsertWatchRow(ctx, row); err != nil {
				log.WithError(err).WithField("user_id", userID).Error("cant persist watch row")
			}
		}
	}
}

package wordlist

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/db"
)

const flushInterval = time.Minute

// Flusher periodically persists accumulated pattern hit counters. Counters
// that fail to persist are re-queued for the next tick.
type Flusher struct {
	matcher *Matcher
	client  db.Client

	mutex   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	enabled bool
}

func NewFlusher(matcher *Matcher, client db.Client) *Flusher {
	return &Flusher{matcher: matcher, client: client}
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
	for listID, hits := range f.matcher.DrainHits() {
		if len(hits) == 0 {
			continue
		}
		if err := f.client.AddWordHits(ctx, listID, hits); err != nil {
			log.WithError(err).WithField("list", listID).Error("cant persist word hits")
			f.requeue(listID, hits)
		}
	}
}

func (f *Flusher) requeue(listID string, hits map[string]int64) {
	f.matcher.hitsMutex.Lock()
	defer f.matcher.hitsMutex.Unlock()
	pending, ok := f.matcher.pending[listID]
	if !ok {
		pending = map[string]int64{}
		f.matcher.pending[listID] = pending
	}
	for raw, count := range hits {
		pending[raw] += count
	}
}

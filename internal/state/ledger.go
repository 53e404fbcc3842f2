package state

import (
	"sync"
	"time"

	"github.com/iamwavecut/langwarden/internal/db"
)

// Ledger tracks per-user risk history: when language violations were last
// detected in each group, accumulated warning score, and join times. Entries
// are created lazily on first touch.
type Ledger struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]*ledgerEntry
	dirty   map[int64]struct{}
}

type ledgerEntry struct {
	mu       sync.Mutex
	detected map[int64]time.Time
	score    map[string]float64
	joined   map[int64]time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		now:     time.Now,
		entries: map[int64]*ledgerEntry{},
		dirty:   map[int64]struct{}{},
	}
}

func (l *Ledger) entry(userID int64) *ledgerEntry {
	l.mu.RLock()
	e, ok := l.entries[userID]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[userID]; ok {
		return e
	}
	e = &ledgerEntry{
		detected: map[int64]time.Time{},
		score:    map[string]float64{},
		joined:   map[int64]time.Time{},
	}
	l.entries[userID] = e
	return e
}

func (l *Ledger) markDirty(userID int64) {
	l.mu.Lock()
	l.dirty[userID] = struct{}{}
	l.mu.Unlock()
}

// RecordDetection stamps a detection for the user in the group and reports
// whether an earlier stamp for that group existed.
func (l *Ledger) RecordDetection(groupID, userID int64) (previously bool) {
	e := l.entry(userID)
	e.mu.Lock()
	_, previously = e.detected[groupID]
	e.detected[groupID] = l.now()
	e.mu.Unlock()
	l.markDirty(userID)
	return previously
}

// DetectedWithin reports whether the user had a detection in the group inside
// the trailing window.
func (l *Ledger) DetectedWithin(groupID, userID int64, window time.Duration) bool {
	e := l.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.detected[groupID]
	if !ok {
		return false
	}
	return l.now().Sub(at) < window
}

// RecordJoin stamps the user's join time in the group.
func (l *Ledger) RecordJoin(groupID, userID int64) {
	e := l.entry(userID)
	e.mu.Lock()
	e.joined[groupID] = l.now()
	e.mu.Unlock()
	l.markDirty(userID)
}

// JoinedWithin reports whether the user joined any known group inside the
// trailing window.
func (l *Ledger) JoinedWithin(userID int64, window time.Duration) bool {
	e := l.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.now()
	for _, at := range e.joined {
		if now.Sub(at) < window {
			return true
		}
	}
	return false
}

// AddScore accrues warning score against the user, keyed by the source group.
func (l *Ledger) AddScore(userID, groupID int64, step float64) {
	e := l.entry(userID)
	e.mu.Lock()
	e.score[scoreKey(groupID)] += step
	e.mu.Unlock()
	l.markDirty(userID)
}

// TotalScore sums the user's score across all sources.
func (l *Ledger) TotalScore(userID int64) float64 {
	e := l.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, v := range e.score {
		total += v
	}
	return total
}

func scoreKey(groupID int64) string {
	return "g" + formatID(groupID)
}

// Snapshot drains the dirty set and returns persistable rows for the touched
// users.
func (l *Ledger) Snapshot() []db.LedgerEntry {
	l.mu.Lock()
	ids := make([]int64, 0, len(l.dirty))
	for id := range l.dirty {
		ids = append(ids, id)
	}
	l.dirty = map[int64]struct{}{}
	l.mu.Unlock()

	out := make([]db.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		e := l.entry(id)
		e.mu.Lock()
		row := db.LedgerEntry{
			UserID:   id,
			Detected: db.UnixByGID{},
			Score:    db.ScoreMap{},
			Joined:   db.UnixByGID{},
		}
		for gid, at := range e.detected {
			row.Detected[gid] = at.Unix()
		}
		for k, v := range e.score {
			row.Score[k] = v
		}
		for gid, at := range e.joined {
			row.Joined[gid] = at.Unix()
		}
		e.mu.Unlock()
		out = append(out, row)
	}
	return out
}

// Restore seeds the ledger from a persisted row without marking it dirty.
func (l *Ledger) Restore(row db.LedgerEntry) {
	e := l.entry(row.UserID)
	e.mu.Lock()
	defer e.mu.Unlock()
	for gid, unix := range row.Detected {
		e.detected[gid] = time.Unix(unix, 0)
	}
	for k, v := range row.Score {
		e.score[k] = v
	}
	for gid, unix := range row.Joined {
		e.joined[gid] = time.Unix(unix, 0)
	}
}

// Ledger exposes the store's risk ledger.
func (s *Store) Ledger() *Ledger {
	return s.ledger
}

package state

import (
	"strconv"
	"time"
)

// Tier is a watch list severity. A ban-tier entry implies the delete tier.
type Tier string

const (
	TierDelete Tier = "delete"
	TierBan    Tier = "ban"
)

func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierDelete:
		return TierDelete, true
	case TierBan:
		return TierBan, true
	}
	return "", false
}

// SetWatch places a user under the given tier until the deadline, extending
// any earlier deadline.
func (s *Store) SetWatch(tier Tier, userID int64, until time.Time) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if current, ok := s.watch[tier][userID]; !ok || until.After(current) {
		s.watch[tier][userID] = until
	}
}

// Watched reports whether the user currently sits under the tier. Expiry is
// checked at read time; nothing proactively sweeps the list.
func (s *Store) Watched(tier Tier, userID int64) bool {
	now := s.now()
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	until, ok := s.watch[tier][userID]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(s.watch[tier], userID)
		return false
	}
	return true
}

// WatchSnapshot returns the live watch entries for persistence.
func (s *Store) WatchSnapshot() map[Tier]map[int64]time.Time {
	now := s.now()
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	out := make(map[Tier]map[int64]time.Time, len(s.watch))
	for tier, users := range s.watch {
		out[tier] = make(map[int64]time.Time, len(users))
		for id, until := range users {
			if until.After(now) {
				out[tier][id] = until
			}
		}
	}
	return out
}

func parseChannelID(value string) (int64, bool) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

package state

import (
	"strconv"
	"time"
)

// RememberContent associates a content fingerprint with the category detail
// that condemned it, so republished media is caught without re-detection.
func (s *Store) RememberContent(fingerprint, detail string) {
	if fingerprint == "" {
		return
	}
	s.contentMu.Lock()
	s.contents[fingerprint] = detail
	s.contentMu.Unlock()
}

// CachedContent returns the recorded detail for a fingerprint, if any.
func (s *Store) CachedContent(fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}
	s.contentMu.RLock()
	defer s.contentMu.RUnlock()
	detail, ok := s.contents[fingerprint]
	return detail, ok
}

func (s *Store) RememberLink(link, detail string) {
	if link == "" {
		return
	}
	s.contentMu.Lock()
	s.links[link] = detail
	s.contentMu.Unlock()
}

func (s *Store) CachedLink(link string) (string, bool) {
	s.contentMu.RLock()
	defer s.contentMu.RUnlock()
	detail, ok := s.links[link]
	return detail, ok
}

// Record marks the user as already reported in the group; duplicate reports
// for the same user are suppressed until the set is cleared.
func (s *Store) Record(groupID, userID int64) {
	s.recordedMu.Lock()
	defer s.recordedMu.Unlock()
	set, ok := s.recorded[groupID]
	if !ok {
		set = map[int64]struct{}{}
		s.recorded[groupID] = set
	}
	set[userID] = struct{}{}
}

func (s *Store) Recorded(groupID, userID int64) bool {
	s.recordedMu.RLock()
	defer s.recordedMu.RUnlock()
	set, ok := s.recorded[groupID]
	if !ok {
		return false
	}
	_, ok = set[userID]
	return ok
}

// Touch records a message arrival for the per-user rate gate and prunes stale
// timestamps.
func (s *Store) Touch(groupID, userID int64, window time.Duration) {
	now := s.now()
	key := rateKey{groupID: groupID, userID: userID}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	times := s.rates[key]
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	s.rates[key] = append(kept, now)
}

// IsLimited reports whether the user has flooded the group past the allowed
// message count within the window.
func (s *Store) IsLimited(groupID, userID int64, count int, window time.Duration) bool {
	now := s.now()
	key := rateKey{groupID: groupID, userID: userID}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	var recent int
	for _, t := range s.rates[key] {
		if now.Sub(t) < window {
			recent++
		}
	}
	return recent >= count
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

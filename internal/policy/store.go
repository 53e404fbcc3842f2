package policy

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/db"
)

const policyTTL = 5 * time.Minute

// Store is a read-through cache over persisted per-group policies. A missing
// or corrupt row yields the default policy; corrupt rows are flagged once and
// then treated as absent.
type Store struct {
	client       db.Client
	defaults     db.GroupPolicy
	cacheTTL     time.Duration
	now          func() time.Time

	mutex   sync.RWMutex
	cache   map[int64]cachedPolicy
	flagged map[int64]struct{}
}

type cachedPolicy struct {
	policy    db.GroupPolicy
	fetchedAt time.Time
}

func NewStore(client db.Client, defaults db.GroupPolicy) *Store {
	return &Store{
		client:   client,
		defaults: defaults,
		cacheTTL: policyTTL,
		now:      time.Now,
		cache:    map[int64]cachedPolicy{},
		flagged:  map[int64]struct{}{},
	}
}

// Get returns the group's policy, filling gaps with defaults.
func (s *Store) Get(ctx context.Context, groupID int64) db.GroupPolicy {
	s.mutex.RLock()
	cached, ok := s.cache[groupID]
	s.mutex.RUnlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.cacheTTL {
		return cached.policy
	}

	policy, err := s.client.GetGroupPolicy(ctx, groupID)
	if err != nil {
		s.flagOnce(groupID, err)
		if ok {
			return cached.policy
		}
		return s.defaults
	}
	merged := s.merge(policy)

	s.mutex.Lock()
	s.cache[groupID] = cachedPolicy{policy: merged, fetchedAt: s.now()}
	delete(s.flagged, groupID)
	s.mutex.Unlock()
	return merged
}

// Set persists the group's policy and refreshes the cache.
func (s *Store) Set(ctx context.Context, groupID int64, policy db.GroupPolicy) error {
	for key := range policy {
		if !Category(key).Valid() {
			return errors.Errorf("unknown policy category %q", key)
		}
	}
	if err := s.client.SetGroupPolicy(ctx, groupID, policy); err != nil {
		return errors.WithMessage(err, "cant persist group policy")
	}
	s.mutex.Lock()
	s.cache[groupID] = cachedPolicy{policy: s.merge(policy), fetchedAt: s.now()}
	s.mutex.Unlock()
	return nil
}

// Entry returns the effective policy entry for a category in the group.
func (s *Store) Entry(ctx context.Context, groupID int64, category Category) db.PolicyEntry {
	return s.Get(ctx, groupID)[string(category)]
}

func (s *Store) merge(policy db.GroupPolicy) db.GroupPolicy {
	merged := make(db.GroupPolicy, len(s.defaults))
	for key, entry := range s.defaults {
		merged[key] = entry
	}
	for key, entry := range policy {
		if !Category(key).Valid() {
			continue
		}
		merged[key] = entry
	}
	return merged
}

func (s *Store) flagOnce(groupID int64, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.flagged[groupID]; ok {
		return
	}
	s.flagged[groupID] = struct{}{}
	log.WithError(err).WithField("group_id", groupID).Warn("cant read group policy, using defaults")
}

package state

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/db"
	"github.com/iamwavecut/langwarden/internal/platform"
)

const (
	BlockKindUser    = "user"
	BlockKindChannel = "channel"

	ExceptKindChannel = "channel"
	ExceptKindLong    = "long"
	ExceptKindTemp    = "temp"
)

// Store owns every piece of process-wide moderation state: privileged and
// blocked identity sets, exemptions, content caches, watch lists, recorded
// sets and the risk ledger. It is safe for concurrent use from many
// simultaneously processed messages; unrelated structures never share a lock.
type Store struct {
	now func() time.Time

	selfID int64

	adminsMu sync.RWMutex
	admins   map[int64]map[int64]struct{}
	bots     map[int64]struct{}

	blockMu         sync.RWMutex
	blockedUsers    map[int64]struct{}
	blockedChannels map[int64]struct{}

	exceptMu       sync.RWMutex
	exceptChannels map[int64]struct{}
	exceptLong     map[string]struct{}
	exceptTemp     map[string]struct{}

	contentMu sync.RWMutex
	contents  map[string]string
	links     map[string]string

	watchMu sync.RWMutex
	watch   map[Tier]map[int64]time.Time

	recordedMu sync.RWMutex
	recorded   map[int64]map[int64]struct{}

	rateMu sync.Mutex
	rates  map[rateKey][]time.Time

	ledger *Ledger
}

type rateKey struct {
	groupID int64
	userID  int64
}

func NewStore() *Store {
	return &Store{
		now:             time.Now,
		admins:          map[int64]map[int64]struct{}{},
		bots:            map[int64]struct{}{},
		blockedUsers:    map[int64]struct{}{},
		blockedChannels: map[int64]struct{}{},
		exceptChannels:  map[int64]struct{}{},
		exceptLong:      map[string]struct{}{},
		exceptTemp:      map[string]struct{}{},
		contents:        map[string]string{},
		links:           map[string]string{},
		watch: map[Tier]map[int64]time.Time{
			TierDelete: {},
			TierBan:    {},
		},
		recorded: map[int64]map[int64]struct{}{},
		rates:    map[rateKey][]time.Time{},
		ledger:   NewLedger(),
	}
}

// WithClock replaces the store's time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	s.ledger.now = now
	return s
}

func (s *Store) SetSelfID(id int64) {
	s.selfID = id
}

func (s *Store) SetAdmins(groupID int64, userIDs []int64) {
	set := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	s.adminsMu.Lock()
	s.admins[groupID] = set
	s.adminsMu.Unlock()
}

func (s *Store) HasAdmins(groupID int64) bool {
	s.adminsMu.RLock()
	defer s.adminsMu.RUnlock()
	_, ok := s.admins[groupID]
	return ok
}

func (s *Store) AddBot(userID int64) {
	s.adminsMu.Lock()
	s.bots[userID] = struct{}{}
	s.adminsMu.Unlock()
}

// IsPrivileged reports whether the actor is a group admin, a recognized
// service identity, or the system itself. Privileged actors are never
// classified.
func (s *Store) IsPrivileged(actor platform.Actor, groupID int64) bool {
	if actor.IsSelf || actor.UserID == s.selfID {
		return true
	}
	s.adminsMu.RLock()
	defer s.adminsMu.RUnlock()
	if _, ok := s.bots[actor.UserID]; ok {
		return true
	}
	if admins, ok := s.admins[groupID]; ok {
		if _, ok := admins[actor.UserID]; ok {
			return true
		}
	}
	return false
}

// IsAdminAnywhere reports whether the user administers any known group.
// Used by the exemption check, mirroring the all-groups admin pass.
func (s *Store) IsAdminAnywhere(userID int64) bool {
	s.adminsMu.RLock()
	defer s.adminsMu.RUnlock()
	for _, admins := range s.admins {
		if _, ok := admins[userID]; ok {
			return true
		}
	}
	return false
}

func (s *Store) Block(userID int64) {
	s.blockMu.Lock()
	s.blockedUsers[userID] = struct{}{}
	s.blockMu.Unlock()
}

func (s *Store) BlockChannel(channelID int64) {
	s.blockMu.Lock()
	s.blockedChannels[channelID] = struct{}{}
	s.blockMu.Unlock()
}

func (s *Store) IsUserBlocked(userID int64) bool {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	_, ok := s.blockedUsers[userID]
	return ok
}

// IsBlocked reports whether the message's sender or forward origin is on the
// block list.
func (s *Store) IsBlocked(msg platform.Message) bool {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()
	if _, ok := s.blockedUsers[msg.UserID]; ok {
		return true
	}
	if msg.ForwardUserID != 0 {
		if _, ok := s.blockedUsers[msg.ForwardUserID]; ok {
			return true
		}
	}
	if msg.ForwardChatID != 0 {
		if _, ok := s.blockedChannels[msg.ForwardChatID]; ok {
			return true
		}
	}
	return false
}

func (s *Store) Except(kind, value string) {
	s.exceptMu.Lock()
	defer s.exceptMu.Unlock()
	switch kind {
	case ExceptKindLong:
		s.exceptLong[value] = struct{}{}
	case ExceptKindTemp:
		s.exceptTemp[value] = struct{}{}
	}
}

func (s *Store) ExceptChannel(channelID int64) {
	s.exceptMu.Lock()
	s.exceptChannels[channelID] = struct{}{}
	s.exceptMu.Unlock()
}

// IsExempt reports whether the message's forward channel or content
// fingerprint is except-listed.
func (s *Store) IsExempt(msg platform.Message) bool {
	s.exceptMu.RLock()
	defer s.exceptMu.RUnlock()
	if msg.ForwardChatID != 0 {
		if _, ok := s.exceptChannels[msg.ForwardChatID]; ok {
			return true
		}
	}
	if msg.Fingerprint == "" {
		return false
	}
	if _, ok := s.exceptLong[msg.Fingerprint]; ok {
		return true
	}
	_, ok := s.exceptTemp[msg.Fingerprint]
	return ok
}

// IsNameExcept reports whether a display name was explicitly white-listed.
func (s *Store) IsNameExcept(name string) bool {
	if name == "" {
		return false
	}
	s.exceptMu.RLock()
	defer s.exceptMu.RUnlock()
	_, ok := s.exceptLong[name]
	return ok
}

// Load hydrates persisted state. A corrupt or unavailable row degrades to
// "absent", it never fails the caller.
func (s *Store) Load(ctx context.Context, client db.Client) {
	if blockRows, err := client.GetBlockRows(ctx); err != nil {
		log.WithError(err).Error("cant load block rows")
	} else {
		for _, row := range blockRows {
			switch row.Kind {
			case BlockKindUser:
				s.Block(row.EntryID)
			case BlockKindChannel:
				s.BlockChannel(row.EntryID)
			}
		}
	}

	if exceptRows, err := client.GetExceptRows(ctx); err != nil {
		log.WithError(err).Error("cant load except rows")
	} else {
		for _, row := range exceptRows {
			if row.Kind == ExceptKindChannel {
				if id, ok := parseChannelID(row.Value); ok {
					s.ExceptChannel(id)
				}
				continue
			}
			s.Except(row.Kind, row.Value)
		}
	}

	if entries, err := client.GetLedgerEntries(ctx); err != nil {
		log.WithError(err).Error("cant load ledger entries")
	} else {
		for _, entry := range entries {
			s.ledger.Restore(entry)
		}
	}

	if watchRows, err := client.GetWatchRows(ctx); err != nil {
		log.WithError(err).Error("cant load watch rows")
	} else {
		for _, row := range watchRows {
			tier, ok := ParseTier(row.Tier)
			if !ok {
				log.WithField("tier", row.Tier).Warn("skipping watch row with unknown tier")
				continue
			}
			s.SetWatch(tier, row.UserID, time.Unix(row.UntilUnix, 0))
		}
	}
}

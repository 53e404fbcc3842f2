package state

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Declared tracks messages already claimed for enforcement, so concurrent or
// replayed deliveries of the same message act at most once.
type Declared interface {
	// TryClaim atomically marks the message handled and reports whether this
	// caller won the claim. A false return means someone else already acted.
	TryClaim(ctx context.Context, groupID int64, messageID int) bool
}

const declaredTTL = 6 * time.Hour

type memoryDeclared struct {
	mu    sync.Mutex
	marks map[string]time.Time
	now   func() time.Time
}

// NewMemoryDeclared returns a process-local Declared with read-time expiry.
func NewMemoryDeclared() Declared {
	return &memoryDeclared{
		marks: map[string]time.Time{},
		now:   time.Now,
	}
}

func (d *memoryDeclared) TryClaim(_ context.Context, groupID int64, messageID int) bool {
	key := declaredKey(groupID, messageID)
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.marks[key]; ok && now.Sub(at) < declaredTTL {
		return false
	}
	d.marks[key] = now
	if len(d.marks)%1024 == 0 {
		for k, at := range d.marks {
			if now.Sub(at) >= declaredTTL {
				delete(d.marks, k)
			}
		}
	}
	return true
}

func declaredKey(groupID int64, messageID int) string {
	return fmt.Sprintf("declared:%d:%d", groupID, messageID)
}

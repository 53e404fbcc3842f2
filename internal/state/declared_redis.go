package state

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type redisDeclared struct {
	client *redis.Client
}

// NewRedisDeclared returns a Declared backed by redis SETNX, letting several
// instances share handled marks. Claims fail open on redis errors so an
// outage degrades to per-instance dedup, not to dropped enforcement.
func NewRedisDeclared(client *redis.Client) Declared {
	return &redisDeclared{client: client}
}

func (d *redisDeclared) TryClaim(ctx context.Context, groupID int64, messageID int) bool {
	ok, err := d.client.SetNX(ctx, declaredKey(groupID, messageID), 1, declaredTTL).Result()
	if err != nil {
		log.WithError(err).Warn("cant claim handled mark, proceeding")
		return true
	}
	return ok
}

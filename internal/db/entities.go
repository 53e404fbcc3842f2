package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// GroupPolicy maps a category name to its policy entry. An absent group
	// policy means nothing is enforced for that group.
	GroupPolicy map[string]PolicyEntry

	// PolicyEntry is either a plain toggle (no languages) or an
	// enabled-with-allowed-languages rule.
	PolicyEntry struct {
		Enabled   bool     `json:"enabled"`
		Languages []string `json:"languages,omitempty"`
	}

	GroupPolicyRow struct {
		GroupID   int64       `db:"group_id"`
		Policy    GroupPolicy `db:"policy"`
		UpdatedAt time.Time   `db:"updated_at"`
	}

	// LedgerEntry is the persisted snapshot of one user's risk record.
	LedgerEntry struct {
		UserID    int64     `db:"user_id"`
		Detected  UnixByGID `db:"detected"`
		Score     ScoreMap  `db:"score"`
		Joined    UnixByGID `db:"joined"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// UnixByGID maps group id to a unix timestamp.
	UnixByGID map[int64]int64

	// ScoreMap maps a trigger source id to its score contribution.
	ScoreMap map[string]float64

	WatchRow struct {
		Tier      string `db:"tier"`
		UserID    int64  `db:"user_id"`
		UntilUnix int64  `db:"until_unix"`
	}

	BlockRow struct {
		Kind    string `db:"kind"`
		EntryID int64  `db:"entry_id"`
	}

	ExceptRow struct {
		Kind  string `db:"kind"`
		Value string `db:"value"`
	}

	WordHit struct {
		ListID  string `db:"list_id"`
		Pattern string `db:"pattern"`
		Hits    int64  `db:"hits"`
	}
)

func (p GroupPolicy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *GroupPolicy) Scan(v interface{}) error {
	return scanJSON(v, p)
}

func (m UnixByGID) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *UnixByGID) Scan(v interface{}) error {
	return scanJSON(v, m)
}

func (m ScoreMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ScoreMap) Scan(v interface{}) error {
	return scanJSON(v, m)
}

func scanJSON(v, dst interface{}) error {
	if v == nil {
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), dst)
	case []byte:
		return json.Unmarshal(data, dst)
	default:
		return fmt.Errorf("cannot scan type %T into %T", v, dst)
	}
}

// Total sums all score contributions.
func (m ScoreMap) Total() float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

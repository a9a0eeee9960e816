package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Actor identifies who performed an audited action.
type Actor struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Record is one append-only audit entry.
type Record struct {
	ID         string    `json:"id"`
	Sequence   uint64    `json:"sequence"`
	Actor      Actor     `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	TargetType    string
	TargetID      string
	AfterSequence uint64
	Limit         int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// NormalizedLimit clamps f.Limit to (0, 1000], defaulting to 100.
func (f Filter) NormalizedLimit() int {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		return defaultListLimit
	}
	return f.Limit
}

// Store is the primary, durable audit destination.
//
// Append assigns rec.Sequence. List returns records with Sequence greater
// than Filter.AfterSequence in Sequence order, so the last Sequence of a page
// is the cursor for the next one.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  uint64
	recs []Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Sequence = s.seq
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.NormalizedLimit()
	s.mu.RLock()
	var res []Record
	for _, r := range s.recs {
		if r.Sequence <= f.AfterSequence {
			continue
		}
		if f.TargetType != "" && r.TargetType != f.TargetType {
			continue
		}
		if f.TargetID != "" && r.TargetID != f.TargetID {
			continue
		}
		res = append(res, r)
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Sequence < res[j].Sequence })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

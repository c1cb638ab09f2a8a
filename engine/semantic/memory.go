package semantic

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// MemoryStore is a brute-force in-process store. Insert skips ids that are
// already present; Upsert replaces them.
type MemoryStore struct {
	mu      sync.RWMutex
	spec    domain.CollectionSpec
	created bool
	loaded  bool
	records map[string]domain.Record
	order   []string
}

// NewMemory returns an empty MemoryStore for spec.
func NewMemory(spec domain.CollectionSpec) *MemoryStore {
	if spec.Metric == "" {
		spec.Metric = domain.MetricCosine
	}
	return &MemoryStore{spec: spec, records: make(map[string]domain.Record)}
}

func (m *MemoryStore) EnsureCollection(context.Context) (domain.CollectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		return domain.StatusAlreadyExists, nil
	}
	m.created = true
	return domain.StatusCreated, nil
}

func (m *MemoryStore) LoadCollection(context.Context) (domain.CollectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return 0, fmt.Errorf("semantic: collection %s does not exist", m.spec.Name)
	}
	if m.loaded {
		return domain.StatusAlreadyLoaded, nil
	}
	m.loaded = true
	return domain.StatusLoaded, nil
}

func (m *MemoryStore) Insert(_ context.Context, records []domain.Record) (int, error) {
	return m.write(records, false)
}

func (m *MemoryStore) Upsert(_ context.Context, records []domain.Record) (int, error) {
	return m.write(records, true)
}

func (m *MemoryStore) write(records []domain.Record, replace bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return 0, fmt.Errorf("semantic: %w: collection %s does not exist", domain.ErrStoreWrite, m.spec.Name)
	}
	for _, r := range records {
		if len(r.Vector) != m.spec.Dimension {
			return 0, fmt.Errorf("semantic: %w: record %s has dimension %d, want %d",
				domain.ErrStoreWrite, r.ID, len(r.Vector), m.spec.Dimension)
		}
	}
	n := 0
	for _, r := range records {
		_, exists := m.records[r.ID]
		if exists && !replace {
			continue
		}
		if !exists {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = r
		n++
	}
	return n, nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(vector) != m.spec.Dimension {
		return nil, fmt.Errorf("semantic: query dimension %d, want %d", len(vector), m.spec.Dimension)
	}
	var hits []domain.RetrievedChunk
	for _, id := range m.order {
		r := m.records[id]
		if !matches(r, filter) {
			continue
		}
		hits = append(hits, domain.RetrievedChunk{
			ID:           r.ID,
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			Unit:         r.Unit,
			Chunk:        r.Chunk,
			Text:         r.Text,
			Score:        score(m.spec.Metric, vector, r.Vector),
		})
	}
	domain.SortRetrieved(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) Delete(_ context.Context, filter domain.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("semantic: delete requires a filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	n := 0
	for _, id := range m.order {
		if matches(m.records[id], filter) {
			delete(m.records, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Get returns the record stored under id.
func (m *MemoryStore) Get(id string) (domain.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

func matches(r domain.Record, f domain.Filter) bool {
	p := r.Payload()
	for _, c := range f.Must {
		got := p[c.Key]
		switch want := c.Value.(type) {
		case []string:
			s, _ := got.(string)
			found := false
			for _, w := range want {
				if s == w {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func score(m domain.Metric, a, b []float32) float32 {
	var dot, na, nb, sq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch m {
	case domain.MetricDot:
		return float32(dot)
	case domain.MetricEuclidean:
		return float32(-math.Sqrt(sq))
	default:
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
}

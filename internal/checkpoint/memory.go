package checkpoint

import (
	"sort"
	"sync"

	"github.com/clipforge/orchestrator/internal/domain"
)

// MemoryStore keeps checkpoints in process memory. State is lost on
// restart, so it only suits tests and single-shot runs.
type MemoryStore struct {
	mu      sync.RWMutex
	cps     map[string]*Checkpoint
	batches map[string]*domain.Batch
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		cps:     make(map[string]*Checkpoint),
		batches: make(map[string]*domain.Batch),
	}
}

func (s *MemoryStore) Put(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	c.Artifacts = copyArtifacts(cp.Artifacts)
	s.cps[cp.ProjectID] = &c
	return nil
}

func (s *MemoryStore) Get(projectID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cp
	c.Artifacts = copyArtifacts(cp.Artifacts)
	return &c, nil
}

func (s *MemoryStore) ListNonTerminal() ([]*Checkpoint, error) {
	return s.filter(func(cp *Checkpoint) bool {
		return cp.Stage != domain.StageCompleted && cp.Stage != domain.StageFailed
	}), nil
}

func (s *MemoryStore) ListByBatch(batchID string) ([]*Checkpoint, error) {
	return s.filter(func(cp *Checkpoint) bool {
		return cp.BatchID == batchID
	}), nil
}

func (s *MemoryStore) filter(keep func(*Checkpoint) bool) []*Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for _, cp := range s.cps {
		if keep(cp) {
			c := *cp
			c.Artifacts = copyArtifacts(cp.Artifacts)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

func (s *MemoryStore) Delete(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, projectID)
	return nil
}

func (s *MemoryStore) PutBatch(b *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	s.batches[b.ID] = &c
	return nil
}

func (s *MemoryStore) GetBatch(id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (s *MemoryStore) ListBatches() ([]*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyArtifacts(in map[domain.ArtifactKind]string) map[domain.ArtifactKind]string {
	out := make(map[domain.ArtifactKind]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)

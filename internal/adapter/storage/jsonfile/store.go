package jsonfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/port"
)

const (
	FileName = "outcomes.json"

	// DefaultMaxEntries bounds the file; the oldest outcomes are dropped first.
	DefaultMaxEntries = 500
)

// Store is a history store backed by one JSON file, for setups that do not
// want a database.
type Store struct {
	mu         sync.RWMutex
	path       string
	maxEntries int
	outcomes   map[string]*domain.Outcome
}

func NewStore(dataDir string) (*Store, error) {
	store := &Store{
		path:       filepath.Join(dataDir, FileName),
		maxEntries: DefaultMaxEntries,
		outcomes:   make(map[string]*domain.Outcome),
	}

	if err := store.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var list []*domain.Outcome
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for _, o := range list {
		s.outcomes[o.SessionID] = o
	}
	return nil
}

// sorted returns outcomes newest first. Callers hold the lock.
func (s *Store) sorted() []*domain.Outcome {
	list := make([]*domain.Outcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		list = append(list, o)
	}
	slices.SortFunc(list, func(a, b *domain.Outcome) int {
		if c := b.FinishedAt.Compare(a.FinishedAt); c != 0 {
			return c
		}
		return b.StartedAt.Compare(a.StartedAt)
	})
	return list
}

func (s *Store) save() error {
	list := s.sorted()
	if len(list) > s.maxEntries {
		for _, o := range list[s.maxEntries:] {
			delete(s.outcomes, o.SessionID)
		}
		list = list[:s.maxEntries]
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0600)
}

func (s *Store) SaveOutcome(o *domain.Outcome) error {
	if o == nil || o.SessionID == "" {
		return errors.New("outcome without session id")
	}
	stored := *o
	if stored.ErrorMessage == "" && stored.Err != nil {
		stored.ErrorMessage = stored.Err.Error()
	}
	stored.Err = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[stored.SessionID] = &stored
	return s.save()
}

func (s *Store) GetOutcome(sessionID string) (*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outcomes[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) ListOutcomes(limit int) ([]*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sorted()
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]*domain.Outcome, len(list))
	for i, o := range list {
		cp := *o
		out[i] = &cp
	}
	return out, nil
}

var _ port.HistoryStore = (*Store)(nil)

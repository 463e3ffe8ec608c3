package offerbook

import (
	"sync"
	"time"

	"github.com/mercato/go-mercato/build"
	"github.com/mercato/go-mercato/lib/types"
)

// LocalStore is an in-process ReplicatedStore used for standalone operation
// and tests. Entries expire after the configured TTL unless refreshed; there
// is no replication behind it.
type LocalStore struct {
	mu           sync.Mutex
	ttl          time.Duration
	seq          uint64
	entries      map[string]types.StoredEntry
	listeners    []types.StoreListener
	bootstrapped bool
}

var _ types.ReplicatedStore = (*LocalStore)(nil)

func NewLocalStore(ttl time.Duration) *LocalStore {
	if ttl <= 0 {
		ttl = build.OfferTTL
	}
	return &LocalStore{
		ttl:     ttl,
		entries: make(map[string]types.StoredEntry),
	}
}

func (s *LocalStore) SetBootstrapped(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstrapped = v
}

func (s *LocalStore) IsBootstrapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootstrapped
}

func (s *LocalStore) Publish(terms *types.OfferTerms, rebroadcast bool) bool {
	s.mu.Lock()
	s.seq++
	s.entries[terms.ID] = types.StoredEntry{
		Terms: terms,
		Meta: types.StoredMeta{
			Sequence:  s.seq,
			ExpiresAt: time.Now().Add(s.ttl),
		},
	}
	ls := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range ls {
		l.OnAdded([]*types.OfferTerms{terms})
	}
	return true
}

func (s *LocalStore) Refresh(terms *types.OfferTerms, rebroadcast bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[terms.ID]
	if !ok || time.Now().After(e.Meta.ExpiresAt) {
		return false
	}
	e.Meta.Sequence++
	e.Meta.ExpiresAt = time.Now().Add(s.ttl)
	s.entries[terms.ID] = e
	return true
}

func (s *LocalStore) Remove(terms *types.OfferTerms, rebroadcast bool) bool {
	s.mu.Lock()
	_, ok := s.entries[terms.ID]
	delete(s.entries, terms.ID)
	ls := s.snapshotListeners()
	s.mu.Unlock()

	if ok {
		for _, l := range ls {
			l.OnRemoved([]*types.OfferTerms{terms})
		}
	}
	return ok
}

func (s *LocalStore) ListAll() []types.StoredEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]types.StoredEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if now.After(e.Meta.ExpiresAt) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *LocalStore) OnChange(l types.StoreListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *LocalStore) snapshotListeners() []types.StoreListener {
	ls := make([]types.StoreListener, len(s.listeners))
	copy(ls, s.listeners)
	return ls
}

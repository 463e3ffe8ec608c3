package types

import "time"

// StoredMeta is the store-side metadata attached to a replicated entry. TTL
// handling is a store-level property; this layer only reads it.
type StoredMeta struct {
	Sequence  uint64
	ExpiresAt time.Time
}

type StoredEntry struct {
	Terms *OfferTerms
	Meta  StoredMeta
}

// StoreListener receives remote add/remove events from the replicated store.
type StoreListener interface {
	OnAdded(terms []*OfferTerms)
	OnRemoved(terms []*OfferTerms)
}

// ReplicatedStore is the external replicated, TTL-expiring P2P store. The
// gossip/anti-entropy layer behind it is out of scope; mutating calls report
// plain success as the underlying protocol does.
type ReplicatedStore interface {
	Publish(terms *OfferTerms, rebroadcast bool) bool
	Refresh(terms *OfferTerms, rebroadcast bool) bool
	Remove(terms *OfferTerms, rebroadcast bool) bool
	ListAll() []StoredEntry
	OnChange(l StoreListener)
	IsBootstrapped() bool
}

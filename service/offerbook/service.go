package offerbook

import (
	"sync"

	"golang.org/x/xerrors"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
)

var logger = logging.Logger("offerbook")

var (
	ErrPublishFailed = xerrors.New("replicated store rejected publish")
	ErrRefreshFailed = xerrors.New("replicated store rejected ttl refresh")
	ErrRemoveFailed  = xerrors.New("replicated store rejected remove")
)

// ChangeListener receives remote offer-book changes as reconstructed runtime
// offers.
type ChangeListener interface {
	OnOffersAdded([]*offer.Offer)
	OnOffersRemoved([]*offer.Offer)
}

// Service is the consumer-facing facade over the external replicated store.
// Mutating calls proxy through and translate the store's plain success flag
// into structured errors; no retries are added here.
type Service struct {
	store types.ReplicatedStore
	feed  types.PriceFeed

	lk        sync.RWMutex
	listeners []ChangeListener
}

func New(store types.ReplicatedStore, feed types.PriceFeed) *Service {
	s := &Service{
		store: store,
		feed:  feed,
	}
	store.OnChange((*storeListener)(s))
	return s
}

// Publish replicates the full offer payload. Terms failing validation are a
// programmer error surfaced to the caller, never sent to the store.
func (s *Service) Publish(terms *types.OfferTerms) error {
	if err := terms.Validate(); err != nil {
		return err
	}
	if !s.store.Publish(terms, true) {
		return ErrPublishFailed
	}
	return nil
}

// RefreshTTL extends the visibility of an already-published offer without
// re-sending the full payload.
func (s *Service) RefreshTTL(terms *types.OfferTerms) error {
	if !s.store.Refresh(terms, true) {
		return ErrRefreshFailed
	}
	return nil
}

func (s *Service) Remove(terms *types.OfferTerms) error {
	if !s.store.Remove(terms, true) {
		return ErrRemoveFailed
	}
	return nil
}

// RemoveAtShutdown issues the remove without rebroadcast batching delays.
func (s *Service) RemoveAtShutdown(terms *types.OfferTerms) error {
	if !s.store.Remove(terms, false) {
		return ErrRemoveFailed
	}
	return nil
}

// ListAll reconstructs runtime offers for every entry currently replicated,
// with the live price feed attached.
func (s *Service) ListAll() []*offer.Offer {
	entries := s.store.ListAll()
	out := make([]*offer.Offer, 0, len(entries))
	for _, e := range entries {
		o := offer.FromPersisted(e.Terms)
		o.SetPriceFeed(s.feed)
		out = append(out, o)
	}
	return out
}

func (s *Service) IsBootstrapped() bool {
	return s.store.IsBootstrapped()
}

func (s *Service) AddChangeListener(l ChangeListener) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.listeners = append(s.listeners, l)
}

// storeListener adapts raw store events into runtime offers for consumers.
type storeListener Service

func (sl *storeListener) OnAdded(terms []*types.OfferTerms) {
	s := (*Service)(sl)
	s.notify(terms, func(l ChangeListener, os []*offer.Offer) { l.OnOffersAdded(os) })
}

func (sl *storeListener) OnRemoved(terms []*types.OfferTerms) {
	s := (*Service)(sl)
	s.notify(terms, func(l ChangeListener, os []*offer.Offer) { l.OnOffersRemoved(os) })
}

func (s *Service) notify(terms []*types.OfferTerms, fn func(ChangeListener, []*offer.Offer)) {
	if len(terms) == 0 {
		return
	}
	offers := make([]*offer.Offer, 0, len(terms))
	for _, t := range terms {
		o := offer.FromPersisted(t)
		o.SetPriceFeed(s.feed)
		offers = append(offers, o)
	}

	s.lk.RLock()
	ls := make([]ChangeListener, len(s.listeners))
	copy(ls, s.listeners)
	s.lk.RUnlock()

	for _, l := range ls {
		fn(l, offers)
	}
}

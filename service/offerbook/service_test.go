package offerbook

import (
	"errors"
	"testing"
	"time"

	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
)

func validTerms(id string) *types.OfferTerms {
	return &types.OfferTerms{
		ID:          id,
		OwnerPubKey: []byte{1},
		FeeTxID:     "tx-" + id,
		Price:       100,
	}
}

func TestPublishValidates(t *testing.T) {
	store := NewLocalStore(time.Minute)
	svc := New(store, nil)

	terms := validTerms("offer-1")
	terms.FeeTxID = ""
	err := svc.Publish(terms)
	if !errors.Is(err, types.ErrMissingFeeTx) {
		t.Fatal("expected missing fee tx error, got", err)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("invalid terms must never reach the store")
	}
}

func TestPublishListRemove(t *testing.T) {
	store := NewLocalStore(time.Minute)
	svc := New(store, nil)

	if err := svc.Publish(validTerms("offer-1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Publish(validTerms("offer-2")); err != nil {
		t.Fatal(err)
	}

	offers := svc.ListAll()
	if len(offers) != 2 {
		t.Fatal("expected 2 offers, got", len(offers))
	}

	if err := svc.Remove(validTerms("offer-1")); err != nil {
		t.Fatal(err)
	}
	if len(svc.ListAll()) != 1 {
		t.Fatal("expected 1 offer after remove")
	}

	// removing again fails, the entry is gone
	if err := svc.Remove(validTerms("offer-1")); !errors.Is(err, ErrRemoveFailed) {
		t.Fatal("expected ErrRemoveFailed, got", err)
	}
}

func TestRefreshUnknownFails(t *testing.T) {
	svc := New(NewLocalStore(time.Minute), nil)
	if err := svc.RefreshTTL(validTerms("nope")); !errors.Is(err, ErrRefreshFailed) {
		t.Fatal("expected ErrRefreshFailed, got", err)
	}
}

type recordingListener struct {
	added   []*offer.Offer
	removed []*offer.Offer
}

func (l *recordingListener) OnOffersAdded(os []*offer.Offer)   { l.added = append(l.added, os...) }
func (l *recordingListener) OnOffersRemoved(os []*offer.Offer) { l.removed = append(l.removed, os...) }

func TestChangeListeners(t *testing.T) {
	store := NewLocalStore(time.Minute)
	svc := New(store, nil)

	rl := new(recordingListener)
	svc.AddChangeListener(rl)

	if err := svc.Publish(validTerms("offer-1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(validTerms("offer-1")); err != nil {
		t.Fatal(err)
	}

	if len(rl.added) != 1 || rl.added[0].ID() != "offer-1" {
		t.Fatal("add not observed")
	}
	if len(rl.removed) != 1 || rl.removed[0].ID() != "offer-1" {
		t.Fatal("remove not observed")
	}
}

func TestListAllAttachesFeed(t *testing.T) {
	store := NewLocalStore(time.Minute)

	feed := marketFeed{"USD": {Bid: 50000, Ask: 50000}}
	svc := New(store, feed)

	terms := validTerms("offer-1")
	terms.Price = 0
	terms.UseMarketBasedPrice = true
	terms.BaseCurrencyCode = "BTC"
	terms.CounterCurrencyCode = "USD"
	if err := svc.Publish(terms); err != nil {
		t.Fatal(err)
	}

	offers := svc.ListAll()
	if len(offers) != 1 {
		t.Fatal("expected 1 offer")
	}
	p, ok := offers[0].Price()
	if !ok || p != 50000 {
		t.Fatal("reconstructed offer should resolve prices through the feed")
	}
}

type marketFeed map[string]types.Quote

func (f marketFeed) MarketPrice(code string) (types.Quote, bool) {
	q, ok := f[code]
	return q, ok
}

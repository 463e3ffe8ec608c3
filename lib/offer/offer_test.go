package offer

import (
	"testing"

	"github.com/mercato/go-mercato/lib/types"
)

func TestPriceMarketBased(t *testing.T) {
	feed := &stubFeed{quotes: map[string]types.Quote{
		"EUR": {Bid: 42000, Ask: 42100},
	}}

	sell := New(&types.OfferTerms{
		ID:                  "sell-1",
		BaseCurrencyCode:    "BTC",
		CounterCurrencyCode: "EUR",
		Direction:           types.Direction_Sell,
		UseMarketBasedPrice: true,
		MarketPriceMargin:   0.05,
	})
	sell.SetPriceFeed(feed)

	p, ok := sell.Price()
	if !ok {
		t.Fatal("expected a price")
	}
	// sell side prices off the ask, margin above market
	if p != 44205 {
		t.Fatal("unexpected sell price:", p)
	}

	buy := New(&types.OfferTerms{
		ID:                  "buy-1",
		BaseCurrencyCode:    "BTC",
		CounterCurrencyCode: "EUR",
		Direction:           types.Direction_Buy,
		UseMarketBasedPrice: true,
		MarketPriceMargin:   0.05,
	})
	buy.SetPriceFeed(feed)

	p, ok = buy.Price()
	if !ok {
		t.Fatal("expected a price")
	}
	// buy side prices off the bid, margin below market
	if p != 39900 {
		t.Fatal("unexpected buy price:", p)
	}
}

func TestPriceMissingQuote(t *testing.T) {
	o := New(&types.OfferTerms{
		ID:                  "o1",
		BaseCurrencyCode:    "BTC",
		CounterCurrencyCode: "JPY",
		UseMarketBasedPrice: true,
	})
	o.SetPriceFeed(&stubFeed{quotes: map[string]types.Quote{}})

	if _, ok := o.Price(); ok {
		t.Fatal("missing quote must not resolve a price")
	}
}

func TestPriceFixed(t *testing.T) {
	o := New(&types.OfferTerms{ID: "o2", Price: 1234})
	p, ok := o.Price()
	if !ok || p != 1234 {
		t.Fatal("fixed price should resolve without a feed")
	}
}

func TestStateListeners(t *testing.T) {
	o := New(&types.OfferTerms{ID: "o3"})

	var seen []types.OfferState
	o.OnStateChange(func(_ *Offer, s types.OfferState) {
		seen = append(seen, s)
	})

	o.SetState(types.Offer_Available)
	o.SetState(types.Offer_Available) // no-op, same state
	o.SetState(types.Offer_Taken)

	if len(seen) != 2 {
		t.Fatal("expected 2 notifications, got", len(seen))
	}
	if seen[0] != types.Offer_Available || seen[1] != types.Offer_Taken {
		t.Fatal("unexpected transitions:", seen)
	}
}

func TestFromPersistedResetsState(t *testing.T) {
	terms := &types.OfferTerms{ID: "o4"}
	o := New(terms)
	o.SetState(types.Offer_Taken)

	restored := FromPersisted(o.Terms())
	if restored.State() != types.Offer_Undefined {
		t.Fatal("restored offers must start undefined")
	}
}

func TestShortID(t *testing.T) {
	o := New(&types.OfferTerms{ID: "abcdefghijkl"})
	if o.ShortID() != "abcdefgh" {
		t.Fatal("unexpected short id:", o.ShortID())
	}

	short := New(&types.OfferTerms{ID: "abc"})
	if short.ShortID() != "abc" {
		t.Fatal("short ids pass through unchanged")
	}
}

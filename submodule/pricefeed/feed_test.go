package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mercato/go-mercato/lib/types"
)

func TestStaticFeed(t *testing.T) {
	f := NewStatic()
	if _, ok := f.MarketPrice("USD"); ok {
		t.Fatal("empty feed should have no quotes")
	}

	f.SetQuote("USD", types.Quote{Bid: 50000, Ask: 50100})
	q, ok := f.MarketPrice("USD")
	if !ok || q.Bid != 50000 || q.Ask != 50100 {
		t.Fatal("unexpected quote:", q)
	}

	f.Remove("USD")
	if _, ok := f.MarketPrice("USD"); ok {
		t.Fatal("removed quote should be gone")
	}
}

func TestServicePoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"currencyCode":"USD","bid":50000,"ask":50100},
			{"currencyCode":"EUR","bid":42000,"ask":42100},
			{"currencyCode":"","bid":1,"ask":1},
			{"currencyCode":"BAD","bid":-1,"ask":1}
		]`))
	}))
	defer srv.Close()

	s := New(srv.URL, time.Minute)
	if err := s.poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	q, ok := s.MarketPrice("USD")
	if !ok || q.Ask != 50100 {
		t.Fatal("usd quote missing")
	}
	if _, ok := s.MarketPrice("EUR"); !ok {
		t.Fatal("eur quote missing")
	}

	// entries without a code or with non-positive prices are dropped
	if _, ok := s.MarketPrice(""); ok {
		t.Fatal("empty code must be rejected")
	}
	if _, ok := s.MarketPrice("BAD"); ok {
		t.Fatal("negative bid must be rejected")
	}
}

func TestServicePollFailureKeepsQuotes(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"currencyCode":"USD","bid":50000,"ask":50100}]`))
	}))
	defer srv.Close()

	s := New(srv.URL, time.Minute)
	if err := s.poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	fail = true
	if err := s.poll(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}

	// the last good quote keeps serving
	if _, ok := s.MarketPrice("USD"); !ok {
		t.Fatal("stale quote should survive a failed poll")
	}
}

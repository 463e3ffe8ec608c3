package offerbook

import (
	"testing"
	"time"

	"github.com/mercato/go-mercato/lib/types"
)

func TestLocalStoreTTL(t *testing.T) {
	s := NewLocalStore(50 * time.Millisecond)

	terms := &types.OfferTerms{ID: "offer-1"}
	if !s.Publish(terms, true) {
		t.Fatal("publish failed")
	}
	if len(s.ListAll()) != 1 {
		t.Fatal("expected 1 entry")
	}

	time.Sleep(80 * time.Millisecond)

	if len(s.ListAll()) != 0 {
		t.Fatal("expired entry still listed")
	}
	if s.Refresh(terms, true) {
		t.Fatal("refresh of an expired entry must fail")
	}
}

func TestLocalStoreRefreshExtends(t *testing.T) {
	s := NewLocalStore(80 * time.Millisecond)

	terms := &types.OfferTerms{ID: "offer-1"}
	s.Publish(terms, true)

	time.Sleep(50 * time.Millisecond)
	if !s.Refresh(terms, true) {
		t.Fatal("refresh should succeed while alive")
	}
	time.Sleep(50 * time.Millisecond)

	// original ttl has passed, refresh keeps it visible
	if len(s.ListAll()) != 1 {
		t.Fatal("refreshed entry should still be listed")
	}
}

func TestLocalStoreSequence(t *testing.T) {
	s := NewLocalStore(time.Minute)

	terms := &types.OfferTerms{ID: "offer-1"}
	s.Publish(terms, true)

	before := s.ListAll()[0].Meta.Sequence
	s.Refresh(terms, true)
	after := s.ListAll()[0].Meta.Sequence

	if after != before+1 {
		t.Fatal("refresh should bump the sequence")
	}
}

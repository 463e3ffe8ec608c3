package build

import "time"

const (
	// OfferTTL is the replicated-store TTL for offer payloads. The store
	// purges entries not refreshed within this window; refresh must run
	// well below it.
	OfferTTL = 9 * time.Minute

	RepublishInterval            = 40 * time.Minute
	RefreshInterval              = 6 * time.Minute
	RetryRepublishDelay          = 10 * time.Second
	RepublishAgainAtStartupDelay = 30 * time.Second

	// per-item delay step inside a republish/refresh batch, to stay under
	// the transport's throttling limit; refresh payloads are cheaper so
	// they use a tighter step
	RepublishItemDelay = 700 * time.Millisecond
	RefreshItemDelay   = 300 * time.Millisecond

	// ReservationTimeout reverts a reserved open offer back to available
	// if the taker never progresses to deposit publication.
	ReservationTimeout = 60 * time.Second

	// max relative deviation between the taker's trade price and our own
	// resolved offer price; maker and taker may observe slightly
	// different market snapshots
	PriceTolerance = 0.02

	ProtocolVersion = 1
)

package offer

import (
	"math"
	"sync"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/types"
)

var logger = logging.Logger("offer")

// StateListener observes transient offer state changes. Listeners replace the
// observable-property pattern of UI-driven designs; there is no global state.
type StateListener func(o *Offer, state types.OfferState)

// Offer wraps immutable OfferTerms with the transient runtime overlay: state,
// last error and the live price feed. None of the overlay is ever persisted.
type Offer struct {
	mu sync.RWMutex

	terms *types.OfferTerms

	state    types.OfferState
	errorMsg string

	feed      types.PriceFeed
	listeners []StateListener
}

func New(terms *types.OfferTerms) *Offer {
	return &Offer{
		terms: terms,
		state: types.Offer_Undefined,
	}
}

// FromPersisted rebuilds a runtime offer from stored terms. Transient fields
// always reset: state starts Undefined no matter what the process saw before
// it went down, and the price feed must be reattached by the caller.
func FromPersisted(terms *types.OfferTerms) *Offer {
	return New(terms)
}

func (o *Offer) Terms() *types.OfferTerms {
	return o.terms
}

func (o *Offer) ID() string {
	return o.terms.ID
}

func (o *Offer) ShortID() string {
	id := o.terms.ID
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (o *Offer) SetPriceFeed(feed types.PriceFeed) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feed = feed
}

func (o *Offer) State() types.OfferState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Offer) SetState(state types.OfferState) {
	o.mu.Lock()
	if o.state == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	ls := make([]StateListener, len(o.listeners))
	copy(ls, o.listeners)
	o.mu.Unlock()

	for _, l := range ls {
		l(o, state)
	}
}

func (o *Offer) ErrorMessage() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.errorMsg
}

func (o *Offer) SetErrorMessage(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errorMsg = msg
}

// OnStateChange registers a listener for transient state transitions.
func (o *Offer) OnStateChange(l StateListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Price resolves the current offer price in price units. For market-based
// offers the price derives from the live feed quote and the stored margin;
// a missing quote yields ok=false rather than an error. Never cached.
func (o *Offer) Price() (int64, bool) {
	if !o.terms.UseMarketBasedPrice {
		return o.terms.Price, true
	}

	o.mu.RLock()
	feed := o.feed
	o.mu.RUnlock()
	if feed == nil {
		logger.Warnw("no price feed attached", "offer", o.ShortID())
		return 0, false
	}

	quote, ok := feed.MarketPrice(o.terms.CurrencyCode())
	if !ok {
		return 0, false
	}

	var side float64
	var factor float64
	if o.terms.Direction == types.Direction_Sell {
		side = quote.Ask
		factor = 1 + o.terms.MarketPriceMargin
	} else {
		side = quote.Bid
		factor = 1 - o.terms.MarketPriceMargin
	}

	price := int64(math.Round(side * factor))
	if price <= 0 {
		return 0, false
	}
	return price, true
}

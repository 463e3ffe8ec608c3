package types

import (
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrMissingFeeTx marks a programmer error: an offer handed to the
	// replicated store before its fee transaction id was set. Never
	// retryable.
	ErrMissingFeeTx = errors.New("offer fee transaction id is not set")

	ErrEmptyOfferID = errors.New("offer id is empty")
	ErrNoPubKey     = errors.New("owner public key is missing")
)

type Direction uint8

const (
	Direction_Buy Direction = iota
	Direction_Sell
)

func (d Direction) String() string {
	if d == Direction_Sell {
		return "SELL"
	}
	return "BUY"
}

// OfferTerms is the immutable, signed statement of trade terms that gets
// replicated across the network. It is content-addressed by ID and owned by
// the key behind OwnerPubKey. The only post-construction mutations allowed
// are setting the fee transaction id (exactly once, before publish) and the
// forward-compatibility ExtraData map.
type OfferTerms struct {
	ID        string
	CreatedAt int64 // unix ms
	Version   uint32

	OwnerAddress string // multiaddr of the maker node, including /p2p/ id
	OwnerPubKey  []byte

	Direction           Direction
	BaseCurrencyCode    string
	CounterCurrencyCode string

	// Fixed price in price units, or market-relative margin when
	// UseMarketBasedPrice is set.
	Price               int64
	MarketPriceMargin   float64
	UseMarketBasedPrice bool

	Amount    int64
	MinAmount int64

	PaymentMethodID   string
	CountryCode       string
	AcceptedCountries []string
	BankID            string
	AcceptedBanks     []string

	ArbitratorAddresses []string
	MediatorAddresses   []string

	FeeTxID string

	BuyerSecurityDeposit  int64
	SellerSecurityDeposit int64
	MaxTradeLimit         int64
	MaxTradePeriod        int64

	UseAutoClose           bool
	UseReOpenAfterAutoClose bool
	LowerClosePrice        int64
	UpperClosePrice        int64

	IsPrivateOffer  bool
	HashOfChallenge string

	ExtraData map[string]string
}

// Validate checks the invariants required before the terms may be handed to
// the replicated store.
func (t *OfferTerms) Validate() error {
	if t.ID == "" {
		return ErrEmptyOfferID
	}
	if len(t.OwnerPubKey) == 0 {
		return ErrNoPubKey
	}
	if t.FeeTxID == "" {
		return ErrMissingFeeTx
	}
	return nil
}

// SetFeeTxID sets the fee transaction id. It may be called exactly once.
func (t *OfferTerms) SetFeeTxID(txID string) error {
	if t.FeeTxID != "" {
		return errors.New("fee transaction id already set")
	}
	t.FeeTxID = txID
	return nil
}

func (t *OfferTerms) CurrencyCode() string {
	if t.BaseCurrencyCode == "BTC" {
		return t.CounterCurrencyCode
	}
	return t.BaseCurrencyCode
}

func (t *OfferTerms) Date() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

func (t *OfferTerms) Serialize() ([]byte, error) {
	return cbor.Marshal(t)
}

func (t *OfferTerms) Deserialize(b []byte) error {
	return cbor.Unmarshal(b, t)
}

// OfferState is the transient runtime state of an offer as observed by this
// node. It is never persisted; reloaded offers always start Undefined.
type OfferState uint8

const (
	Offer_Undefined OfferState = iota
	Offer_Available
	Offer_Taken
	Offer_Removed
	Offer_MarketPriceNotAvailable
	Offer_Unknown
)

func (s OfferState) String() string {
	switch s {
	case Offer_Available:
		return "available"
	case Offer_Taken:
		return "taken"
	case Offer_Removed:
		return "removed"
	case Offer_MarketPriceNotAvailable:
		return "market price not available"
	case Offer_Unknown:
		return "unknown"
	default:
		return "undefined"
	}
}

// AvailabilityResult is the closed set of outcomes of an availability
// exchange. Domain refusals are values here, not errors.
type AvailabilityResult uint8

const (
	Avail_UnknownFailure AvailabilityResult = iota
	Avail_Available
	Avail_OfferTaken
	Avail_PriceOutOfTolerance
	Avail_MarketPriceNotAvailable
	Avail_NoArbitrators
	Avail_NoMediators
	Avail_UserIgnored
)

func (r AvailabilityResult) String() string {
	switch r {
	case Avail_Available:
		return "AVAILABLE"
	case Avail_OfferTaken:
		return "OFFER_TAKEN"
	case Avail_PriceOutOfTolerance:
		return "PRICE_OUT_OF_TOLERANCE"
	case Avail_MarketPriceNotAvailable:
		return "MARKET_PRICE_NOT_AVAILABLE"
	case Avail_NoArbitrators:
		return "NO_ARBITRATORS"
	case Avail_NoMediators:
		return "NO_MEDIATORS"
	case Avail_UserIgnored:
		return "USER_IGNORED"
	default:
		return "UNKNOWN_FAILURE"
	}
}

// Quote is a bid/ask pair from the reference price feed.
type Quote struct {
	Bid float64
	Ask float64
}

// PriceFeed provides live reference market prices. External collaborator;
// never persisted with offers.
type PriceFeed interface {
	MarketPrice(currencyCode string) (Quote, bool)
}

// AddressEntry ties a reserved wallet address to an open offer.
type AddressEntry struct {
	Address string
	OfferID string
}

// ReservationWallet is the slice of the wallet this subsystem needs:
// reservation bookkeeping by offer id.
type ReservationWallet interface {
	OpenOfferEntries() []AddressEntry
	ReleaseForOffer(offerID string)
}

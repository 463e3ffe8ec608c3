package openoffer

import (
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mercato/go-mercato/build"
	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
)

type State uint8

const (
	Open_Available State = iota
	Open_Reserved
	Open_Closed
	Open_Canceled
)

func (s State) String() string {
	switch s {
	case Open_Reserved:
		return "reserved"
	case Open_Closed:
		return "closed"
	case Open_Canceled:
		return "canceled"
	default:
		return "available"
	}
}

// Record is the persisted form of an open offer. Only terms and the open
// state survive a restart; the wrapped Offer's transient state never does.
type Record struct {
	Terms           *types.OfferTerms
	State           State
	MediatorAddress string
	CreatedAt       int64
}

func (r *Record) Serialize() ([]byte, error) {
	return cbor.Marshal(r)
}

func (r *Record) Deserialize(b []byte) error {
	return cbor.Unmarshal(b, r)
}

// OpenOffer is the authoritative local record of one offer this node has
// published and still controls.
//
// State machine: Available -> Reserved -> {Closed | Canceled}, plus the
// automatic Reserved -> Available revert when the reservation timeout
// elapses. Entering Reserved always (re)starts the single-shot timeout;
// entering any other state cancels it. At most one timeout is outstanding.
type OpenOffer struct {
	mu sync.Mutex

	offer           *offer.Offer
	state           State
	mediatorAddress string
	createdAt       int64

	timeout time.Duration
	timer   *time.Timer

	// called after an automatic revert to Available
	onRevert func(*OpenOffer)
}

func New(o *offer.Offer) *OpenOffer {
	return &OpenOffer{
		offer:     o,
		state:     Open_Available,
		createdAt: time.Now().UnixMilli(),
		timeout:   build.ReservationTimeout,
	}
}

// FromRecord rebuilds an open offer from its persisted record. A restored
// Reserved state restarts its timeout so the reservation invariant holds
// across restarts.
func FromRecord(r *Record) *OpenOffer {
	oo := &OpenOffer{
		offer:           offer.FromPersisted(r.Terms),
		state:           Open_Available,
		mediatorAddress: r.MediatorAddress,
		createdAt:       r.CreatedAt,
		timeout:         build.ReservationTimeout,
	}
	if r.State != Open_Available {
		oo.SetState(r.State)
	}
	return oo
}

func (oo *OpenOffer) ID() string {
	return oo.offer.ID()
}

func (oo *OpenOffer) ShortID() string {
	return oo.offer.ShortID()
}

func (oo *OpenOffer) Offer() *offer.Offer {
	return oo.offer
}

func (oo *OpenOffer) State() State {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	return oo.state
}

func (oo *OpenOffer) IsAvailable() bool {
	return oo.State() == Open_Available
}

func (oo *OpenOffer) MediatorAddress() string {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	return oo.mediatorAddress
}

func (oo *OpenOffer) SetMediatorAddress(addr string) {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	oo.mediatorAddress = addr
}

func (oo *OpenOffer) SetState(s State) {
	oo.mu.Lock()
	defer oo.mu.Unlock()

	oo.state = s
	if s == Open_Reserved {
		oo.startTimeoutLocked()
	} else {
		oo.stopTimeoutLocked()
	}
}

// setOnRevert installs the callback fired after an automatic revert.
func (oo *OpenOffer) setOnRevert(fn func(*OpenOffer)) {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	oo.onRevert = fn
}

// setTimeout overrides the reservation timeout; test hook.
func (oo *OpenOffer) setTimeout(d time.Duration) {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	oo.timeout = d
}

func (oo *OpenOffer) startTimeoutLocked() {
	if oo.timer != nil {
		oo.timer.Stop()
	}
	oo.timer = time.AfterFunc(oo.timeout, oo.revert)
}

func (oo *OpenOffer) stopTimeoutLocked() {
	if oo.timer != nil {
		oo.timer.Stop()
		oo.timer = nil
	}
}

func (oo *OpenOffer) revert() {
	oo.mu.Lock()
	if oo.state != Open_Reserved {
		oo.mu.Unlock()
		return
	}
	oo.state = Open_Available
	oo.timer = nil
	fn := oo.onRevert
	oo.mu.Unlock()

	logger.Infow("reservation timed out, offer available again", "offer", oo.ShortID())
	if fn != nil {
		fn(oo)
	}
}

func (oo *OpenOffer) record() *Record {
	oo.mu.Lock()
	defer oo.mu.Unlock()
	return &Record{
		Terms:           oo.offer.Terms(),
		State:           oo.state,
		MediatorAddress: oo.mediatorAddress,
		CreatedAt:       oo.createdAt,
	}
}

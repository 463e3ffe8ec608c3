package availability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
	"github.com/mercato/go-mercato/service/netapp"
)

var logger = logging.Logger("availability")

var requestTimeout = 90 * time.Second

var (
	ErrCanceled     = xerrors.New("availability check canceled")
	ErrBadResponse  = xerrors.New("availability response does not match request")
	ErrNotAvailable = xerrors.New("offer is not available")
)

// ResultHandler receives the maker's verdict once.
type ResultHandler func(types.AvailabilityResult)

// ErrorHandler receives a transport or protocol failure once.
type ErrorHandler func(error)

// Sender is the slice of the messaging layer the protocol needs.
type Sender interface {
	SendRequest(ctx context.Context, ai peer.AddrInfo, env *types.Envelope) (*types.Envelope, error)
}

var _ Sender = (*netapp.Service)(nil)

// Protocol runs one availability exchange with the maker of an offer: a
// single request, a single response. Exactly one of the two handlers fires,
// exactly once, even under races between a late response and Cancel. The
// observed outcome is also reflected into the offer's transient state.
type Protocol struct {
	net    Sender
	o      *offer.Offer
	pubKey []byte
	price  int64

	uid string

	mu     sync.Mutex
	once   sync.Once
	cancel context.CancelFunc
}

func NewProtocol(net Sender, o *offer.Offer, pubKey []byte, takersTradePrice int64) *Protocol {
	return &Protocol{
		net:    net,
		o:      o,
		pubKey: pubKey,
		price:  takersTradePrice,
		uid:    uuid.NewString(),
	}
}

// SendRequest starts the exchange. It returns immediately; the outcome
// arrives through the handlers.
func (p *Protocol) SendRequest(ctx context.Context, onResult ResultHandler, onError ErrorHandler) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx, onResult, onError)
}

// Cancel aborts an in-flight exchange. A response that still arrives is
// discarded; no handler fires after Cancel won the race.
func (p *Protocol) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	p.once.Do(func() {
		logger.Debugw("availability check canceled", "offer", p.o.ShortID())
	})
	if cancel != nil {
		cancel()
	}
}

func (p *Protocol) run(ctx context.Context, onResult ResultHandler, onError ErrorHandler) {
	defer func() {
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	result, err := p.exchange(ctx)
	if err != nil {
		p.once.Do(func() {
			p.o.SetState(types.Offer_Unknown)
			p.o.SetErrorMessage(err.Error())
			onError(err)
		})
		return
	}

	p.once.Do(func() {
		p.applyResult(result)
		onResult(result)
	})
}

func (p *Protocol) exchange(ctx context.Context) (types.AvailabilityResult, error) {
	ai, err := netapp.ResolvePeer(p.o.Terms().OwnerAddress)
	if err != nil {
		return types.Avail_UnknownFailure, err
	}

	req := &types.AvailabilityRequest{
		OfferID:          p.o.ID(),
		Uid:              p.uid,
		PubKey:           p.pubKey,
		TakersTradePrice: p.price,
	}
	env, err := req.Envelope()
	if err != nil {
		return types.Avail_UnknownFailure, err
	}

	logger.Infow("sending availability request",
		"offer", p.o.ShortID(), "maker", ai.ID, "uid", p.uid)

	respEnv, err := p.net.SendRequest(ctx, ai, env)
	if err != nil {
		if ctx.Err() != nil {
			return types.Avail_UnknownFailure, ErrCanceled
		}
		return types.Avail_UnknownFailure, xerrors.Errorf("availability request: %w", err)
	}

	if respEnv.Type != types.Msg_AvailabilityResponse {
		return types.Avail_UnknownFailure, ErrBadResponse
	}
	resp := new(types.AvailabilityResponse)
	if err := resp.Deserialize(respEnv.Data); err != nil {
		return types.Avail_UnknownFailure, xerrors.Errorf("decode availability response: %w", err)
	}
	if resp.Uid != p.uid || resp.OfferID != p.o.ID() {
		return types.Avail_UnknownFailure, ErrBadResponse
	}
	return resp.Result, nil
}

// applyResult maps the maker's verdict onto the offer's transient state.
func (p *Protocol) applyResult(result types.AvailabilityResult) {
	switch result {
	case types.Avail_Available:
		p.o.SetState(types.Offer_Available)
	case types.Avail_OfferTaken:
		p.o.SetState(types.Offer_Taken)
	case types.Avail_MarketPriceNotAvailable:
		p.o.SetState(types.Offer_MarketPriceNotAvailable)
	default:
		p.o.SetState(types.Offer_Unknown)
		p.o.SetErrorMessage(ErrNotAvailable.Error() + ": " + result.String())
	}
}

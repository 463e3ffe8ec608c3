package availability

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
)

func makerAddr(t *testing.T) string {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("/ip4/127.0.0.1/tcp/4001/p2p/%s", pid)
}

func testOffer(t *testing.T) *offer.Offer {
	return offer.New(&types.OfferTerms{
		ID:           "offer-1",
		OwnerAddress: makerAddr(t),
		Price:        50000,
	})
}

// scriptedSender answers every request by decoding it and applying respond.
type scriptedSender struct {
	respond func(*types.AvailabilityRequest) (*types.AvailabilityResponse, error)
}

func (s *scriptedSender) SendRequest(_ context.Context, _ peer.AddrInfo, env *types.Envelope) (*types.Envelope, error) {
	req := new(types.AvailabilityRequest)
	if err := req.Deserialize(env.Data); err != nil {
		return nil, err
	}
	resp, err := s.respond(req)
	if err != nil {
		return nil, err
	}
	return resp.Envelope()
}

func waitOutcome(t *testing.T, resultCh chan types.AvailabilityResult, errCh chan error) (types.AvailabilityResult, error) {
	t.Helper()
	select {
	case r := <-resultCh:
		return r, nil
	case err := <-errCh:
		return 0, err
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return 0, nil
	}
}

func runProtocol(t *testing.T, o *offer.Offer, sender Sender) (types.AvailabilityResult, error) {
	t.Helper()

	p := NewProtocol(sender, o, []byte{1}, 50000)
	resultCh := make(chan types.AvailabilityResult, 1)
	errCh := make(chan error, 1)
	p.SendRequest(context.Background(),
		func(r types.AvailabilityResult) { resultCh <- r },
		func(err error) { errCh <- err })
	return waitOutcome(t, resultCh, errCh)
}

func TestExchangeAvailable(t *testing.T) {
	o := testOffer(t)
	sender := &scriptedSender{respond: func(req *types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		if req.TakersTradePrice != 50000 {
			t.Fatal("wrong price on the wire")
		}
		return &types.AvailabilityResponse{OfferID: req.OfferID, Uid: req.Uid, Result: types.Avail_Available}, nil
	}}

	result, err := runProtocol(t, o, sender)
	if err != nil {
		t.Fatal(err)
	}
	if result != types.Avail_Available {
		t.Fatal("expected AVAILABLE, got", result)
	}
	if o.State() != types.Offer_Available {
		t.Fatal("offer state should reflect the verdict")
	}
}

func TestExchangeTaken(t *testing.T) {
	o := testOffer(t)
	sender := &scriptedSender{respond: func(req *types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		return &types.AvailabilityResponse{OfferID: req.OfferID, Uid: req.Uid, Result: types.Avail_OfferTaken}, nil
	}}

	result, err := runProtocol(t, o, sender)
	if err != nil {
		t.Fatal(err)
	}
	if result != types.Avail_OfferTaken {
		t.Fatal("expected OFFER_TAKEN, got", result)
	}
	if o.State() != types.Offer_Taken {
		t.Fatal("offer state should be taken")
	}
}

func TestExchangeRefusalSetsError(t *testing.T) {
	o := testOffer(t)
	sender := &scriptedSender{respond: func(req *types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		return &types.AvailabilityResponse{OfferID: req.OfferID, Uid: req.Uid, Result: types.Avail_PriceOutOfTolerance}, nil
	}}

	result, err := runProtocol(t, o, sender)
	if err != nil {
		t.Fatal(err)
	}
	if result != types.Avail_PriceOutOfTolerance {
		t.Fatal("unexpected result:", result)
	}
	if o.State() != types.Offer_Unknown {
		t.Fatal("refusals other than taken map to unknown")
	}
	if o.ErrorMessage() == "" {
		t.Fatal("refusal should record an error message")
	}
}

func TestExchangeUidMismatch(t *testing.T) {
	o := testOffer(t)
	sender := &scriptedSender{respond: func(req *types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		return &types.AvailabilityResponse{OfferID: req.OfferID, Uid: "forged", Result: types.Avail_Available}, nil
	}}

	_, err := runProtocol(t, o, sender)
	if !errors.Is(err, ErrBadResponse) {
		t.Fatal("expected ErrBadResponse, got", err)
	}
}

func TestExchangeTransportError(t *testing.T) {
	o := testOffer(t)
	sender := &scriptedSender{respond: func(*types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		return nil, errors.New("connection refused")
	}}

	_, err := runProtocol(t, o, sender)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if o.State() != types.Offer_Unknown {
		t.Fatal("failed exchange should leave the offer unknown")
	}
}

type blockingSender struct{}

func (blockingSender) SendRequest(ctx context.Context, _ peer.AddrInfo, _ *types.Envelope) (*types.Envelope, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelSuppressesHandlers(t *testing.T) {
	o := testOffer(t)
	p := NewProtocol(blockingSender{}, o, nil, 50000)

	fired := make(chan struct{}, 2)
	p.SendRequest(context.Background(),
		func(types.AvailabilityResult) { fired <- struct{}{} },
		func(error) { fired <- struct{}{} })

	p.Cancel()

	select {
	case <-fired:
		t.Fatal("no handler may fire after cancel")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBadMakerAddress(t *testing.T) {
	o := offer.New(&types.OfferTerms{ID: "offer-1", OwnerAddress: "not-an-address"})

	_, err := runProtocol(t, o, &scriptedSender{respond: func(*types.AvailabilityRequest) (*types.AvailabilityResponse, error) {
		t.Fatal("must not be called")
		return nil, nil
	}})
	if err == nil {
		t.Fatal("expected address resolution error")
	}
}

package netapp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mercato/go-mercato/lib/types"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRequestResponse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	maker := newTestHost(t)
	taker := newTestHost(t)

	makerSvc := New(ctx, maker, "test")
	takerSvc := New(ctx, taker, "test")

	makerSvc.Register(types.Msg_AvailabilityRequest, func(_ context.Context, from peer.ID, env *types.Envelope) (*types.Envelope, error) {
		req := new(types.AvailabilityRequest)
		if err := req.Deserialize(env.Data); err != nil {
			return nil, err
		}
		resp := &types.AvailabilityResponse{
			OfferID: req.OfferID,
			Uid:     req.Uid,
			Result:  types.Avail_Available,
		}
		return resp.Envelope()
	})

	addr := fmt.Sprintf("%s/p2p/%s", maker.Addrs()[0], maker.ID())
	ai, err := ResolvePeer(addr)
	if err != nil {
		t.Fatal(err)
	}

	req := &types.AvailabilityRequest{OfferID: "offer-1", Uid: "u1", TakersTradePrice: 100}
	env, err := req.Envelope()
	if err != nil {
		t.Fatal(err)
	}

	respEnv, err := takerSvc.SendRequest(ctx, ai, env)
	if err != nil {
		t.Fatal(err)
	}
	if respEnv.Type != types.Msg_AvailabilityResponse {
		t.Fatal("unexpected response type:", respEnv.Type)
	}

	resp := new(types.AvailabilityResponse)
	if err := resp.Deserialize(respEnv.Data); err != nil {
		t.Fatal(err)
	}
	if resp.Uid != "u1" || resp.Result != types.Avail_Available {
		t.Fatal("unexpected response:", resp)
	}
}

func TestResolvePeer(t *testing.T) {
	h := newTestHost(t)

	addr := fmt.Sprintf("%s/p2p/%s", h.Addrs()[0], h.ID())
	ai, err := ResolvePeer(addr)
	if err != nil {
		t.Fatal(err)
	}
	if ai.ID != h.ID() || len(ai.Addrs) != 1 {
		t.Fatal("bad addr info:", ai)
	}

	if _, err := ResolvePeer("garbage"); err == nil {
		t.Fatal("expected parse error")
	}
	// an address without a peer id is not dialable for us
	if _, err := ResolvePeer("/ip4/127.0.0.1/tcp/1"); err == nil {
		t.Fatal("expected missing p2p component error")
	}
}

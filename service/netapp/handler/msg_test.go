package handler

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mercato/go-mercato/lib/types"
)

func TestRegisterAndHandle(t *testing.T) {
	h := NewMsgHandle()

	h.Register(types.Msg_AvailabilityRequest, func(_ context.Context, _ peer.ID, env *types.Envelope) (*types.Envelope, error) {
		return &types.Envelope{Version: 1, Type: types.Msg_AvailabilityResponse}, nil
	})

	resp, err := h.Handle(context.Background(), "", &types.Envelope{Type: types.Msg_AvailabilityRequest})
	if err != nil {
		t.Fatal(err)
	}
	if resp == nil || resp.Type != types.Msg_AvailabilityResponse {
		t.Fatal("handler did not run")
	}
}

func TestUnregisteredTypeIsDropped(t *testing.T) {
	h := NewMsgHandle()

	resp, err := h.Handle(context.Background(), "", &types.Envelope{Type: types.Msg_AvailabilityRequest})
	if err != nil || resp != nil {
		t.Fatal("unhandled types are silently dropped")
	}
}

func TestUnRegister(t *testing.T) {
	h := NewMsgHandle()
	h.Register(types.Msg_AvailabilityRequest, func(_ context.Context, _ peer.ID, env *types.Envelope) (*types.Envelope, error) {
		return env, nil
	})
	h.UnRegister(types.Msg_AvailabilityRequest)

	resp, _ := h.Handle(context.Background(), "", &types.Envelope{Type: types.Msg_AvailabilityRequest})
	if resp != nil {
		t.Fatal("unregistered handler still ran")
	}
}

func TestClosedHandleDrops(t *testing.T) {
	h := NewMsgHandle()
	h.Register(types.Msg_AvailabilityRequest, func(_ context.Context, _ peer.ID, env *types.Envelope) (*types.Envelope, error) {
		return env, nil
	})
	h.Close()

	resp, _ := h.Handle(context.Background(), "", &types.Envelope{Type: types.Msg_AvailabilityRequest})
	if resp != nil {
		t.Fatal("closed handle must not dispatch")
	}
}

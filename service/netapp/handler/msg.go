package handler

import (
	"context"
	"errors"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mercato/go-mercato/lib/types"
)

var (
	// ErrHandlerNotAssign is returned when no handler is mounted for a
	// message type.
	ErrHandlerNotAssign = errors.New("message handler not assigned")
)

// MsgHandlerFunc is the callback invoked on receiving a direct message. A nil
// response envelope means no reply is sent (silent drop).
type MsgHandlerFunc func(context.Context, peer.ID, *types.Envelope) (*types.Envelope, error)

// MsgHandle is used for callback on receiving msg from net
type MsgHandle interface {
	Handle(context.Context, peer.ID, *types.Envelope) (*types.Envelope, error)
	Register(types.MsgType, MsgHandlerFunc)
	UnRegister(types.MsgType)
	Close()
}

var _ MsgHandle = (*MsgImpl)(nil)

type MsgImpl struct {
	sync.RWMutex
	close bool
	hmap  map[types.MsgType]MsgHandlerFunc
}

func NewMsgHandle() *MsgImpl {
	return &MsgImpl{
		hmap: make(map[types.MsgType]MsgHandlerFunc),
	}
}

func (i *MsgImpl) Handle(ctx context.Context, pid peer.ID, mes *types.Envelope) (*types.Envelope, error) {
	i.RLock()
	defer i.RUnlock()

	if i.close {
		return nil, nil
	}

	h, ok := i.hmap[mes.Type]
	if ok {
		return h(ctx, pid, mes)
	}
	return nil, nil
}

func (i *MsgImpl) Register(mt types.MsgType, h MsgHandlerFunc) {
	i.Lock()
	defer i.Unlock()
	i.hmap[mt] = h
}

func (i *MsgImpl) UnRegister(mt types.MsgType) {
	i.Lock()
	defer i.Unlock()
	delete(i.hmap, mt)
}

func (i *MsgImpl) Close() {
	i.Lock()
	defer i.Unlock()
	i.close = true
}

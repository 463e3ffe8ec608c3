package netapp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/types"
	"github.com/mercato/go-mercato/service/netapp/handler"
)

var logger = logging.Logger("netapp")

var streamIdleTimeout = 1 * time.Minute

// OfferProtocol is the direct-message protocol id for a network.
func OfferProtocol(networkName string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/mercato/offer/%s", networkName))
}

// ConnListener receives coarse connectivity transitions derived from the
// underlying host's connection set. OnAwakeFromStandby fires after the
// process was suspended long enough to have missed its timers, and only
// while at least one connection is alive.
type ConnListener interface {
	OnAllConnectionsLost()
	OnNewConnectionAfterAllConnectionsLost()
	OnAwakeFromStandby()
}

// Service is the point-to-point messaging channel between peers. Transport
// encryption comes from the libp2p security layer; this service only frames
// and dispatches envelopes.
type Service struct {
	handler.MsgHandle

	ctx   context.Context
	h     host.Host
	proto protocol.ID

	nn *notifee
}

func New(ctx context.Context, h host.Host, networkName string) *Service {
	s := &Service{
		MsgHandle: handler.NewMsgHandle(),
		ctx:       ctx,
		h:         h,
		proto:     OfferProtocol(networkName),
	}

	s.nn = newNotifee(s)
	h.SetStreamHandler(s.proto, s.handleNewStream)
	h.Network().Notify(s.nn)
	go s.watchStandby()

	return s
}

// standbyGap is the wall-clock jump between ticks that makes us assume the
// machine was suspended rather than merely busy.
var standbyGap = 30 * time.Second

// watchStandby detects suspend/resume: a monotonic ticker cannot fire while
// the machine sleeps, so an oversized gap between ticks means we just woke
// up. Listeners only hear about it if a connection survived the sleep;
// otherwise the lost/new-connection transitions cover recovery.
func (s *Service) watchStandby() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	last := time.Now()
	for {
		select {
		case <-tick.C:
			now := time.Now()
			gap := now.Sub(last)
			last = now
			if gap > standbyGap && len(s.h.Network().Conns()) > 0 {
				logger.Infow("resumed from standby", "gap", gap)
				s.nn.wake()
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// AddConnListener registers for connectivity transitions.
func (s *Service) AddConnListener(l ConnListener) {
	s.nn.addListener(l)
}

func (s *Service) Host() host.Host {
	return s.h
}

// ResolvePeer parses a maker network address into dialable peer info.
func ResolvePeer(addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, xerrors.Errorf("bad peer address %s: %w", addr, err)
	}
	ai, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, xerrors.Errorf("bad peer address %s: %w", addr, err)
	}
	return *ai, nil
}

// SendRequest sends one envelope to a peer and waits for the single reply
// envelope on the same stream.
func (s *Service) SendRequest(ctx context.Context, ai peer.AddrInfo, env *types.Envelope) (*types.Envelope, error) {
	if s.h.Network().Connectedness(ai.ID) != network.Connected {
		if err := s.h.Connect(ctx, ai); err != nil {
			return nil, xerrors.Errorf("connect to %s: %w", ai.ID, err)
		}
	}

	str, err := s.h.NewStream(ctx, ai.ID, s.proto)
	if err != nil {
		return nil, xerrors.Errorf("open stream to %s: %w", ai.ID, err)
	}
	defer str.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = str.SetDeadline(dl)
	}

	data, err := env.Serialize()
	if err != nil {
		return nil, err
	}

	w := msgio.NewVarintWriter(str)
	if err := w.WriteMsg(data); err != nil {
		str.Reset()
		return nil, xerrors.Errorf("write request: %w", err)
	}

	r := msgio.NewVarintReaderSize(str, network.MessageSizeMax)
	b, err := r.ReadMsg()
	if err != nil {
		str.Reset()
		return nil, xerrors.Errorf("read response: %w", err)
	}
	defer r.ReleaseMsg(b)

	resp := new(types.Envelope)
	if err := resp.Deserialize(b); err != nil {
		return nil, xerrors.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// handleNewStream implements the network.StreamHandler
func (s *Service) handleNewStream(str network.Stream) {
	if s.handleNewMessage(str) {
		_ = str.Close()
	} else {
		_ = str.Reset()
	}
}

// Returns true on orderly completion of writes (so we can Close the stream).
func (s *Service) handleNewMessage(str network.Stream) bool {
	ctx := s.ctx
	r := msgio.NewVarintReaderSize(str, network.MessageSizeMax)

	mPeer := str.Conn().RemotePeer()

	timer := time.AfterFunc(streamIdleTimeout, func() { _ = str.Reset() })
	defer timer.Stop()

	for {
		msgbytes, err := r.ReadMsg()
		if err != nil {
			r.ReleaseMsg(msgbytes)
			return err == io.EOF
		}

		var req types.Envelope
		err = req.Deserialize(msgbytes)
		r.ReleaseMsg(msgbytes)
		if err != nil {
			logger.Debugw("dropping undecodable message", "peer", mPeer)
			return false
		}

		timer.Reset(streamIdleTimeout)

		resp, err := s.Handle(ctx, mPeer, &req)
		if err != nil {
			logger.Debugw("handler failed", "peer", mPeer, "type", req.Type, "err", err)
			return false
		}

		if resp == nil {
			// handler chose not to answer
			continue
		}

		data, err := resp.Serialize()
		if err != nil {
			return false
		}
		w := msgio.NewVarintWriter(str)
		if err := w.WriteMsg(data); err != nil {
			return false
		}
	}
}

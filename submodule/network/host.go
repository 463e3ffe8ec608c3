package network

import (
	"context"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	tls "github.com/libp2p/go-libp2p/p2p/security/tls"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	websocket "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	"golang.org/x/xerrors"

	"github.com/mercato/go-mercato/build"
	"github.com/mercato/go-mercato/config"
	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/service/netapp"
)

var logger = logging.Logger("network")

// BuildHost constructs the libp2p host for a node: tcp and websocket
// transports, tls preferred over noise, yamux stream multiplexing.
func BuildHost(cfg config.NetConfig, key crypto.PrivKey) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Addresses...),
		libp2p.UserAgent("mercato/" + build.UserVersion()),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(websocket.New),
		libp2p.Security(tls.ID, tls.New),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.Ping(true),
		libp2p.DisableRelay(),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to build host %w", err)
	}

	logger.Infow("host up", "peer", h.ID(), "addrs", h.Addrs())
	return h, nil
}

// Bootstrap dials the configured bootstrap peers. Individual failures are
// logged and skipped; an error comes back only if no peer at all could be
// reached while some were configured.
func Bootstrap(ctx context.Context, h host.Host, addrs []string) error {
	if len(addrs) == 0 {
		return nil
	}

	connected := 0
	for _, addr := range addrs {
		ai, err := netapp.ResolvePeer(addr)
		if err != nil {
			logger.Warnw("bad bootstrap address", "addr", addr, "err", err)
			continue
		}
		if err := h.Connect(ctx, ai); err != nil {
			logger.Warnw("bootstrap connect failed", "peer", ai.ID, "err", err)
			continue
		}
		connected++
	}

	if connected == 0 {
		return xerrors.Errorf("could not reach any of %d bootstrap peers", len(addrs))
	}
	logger.Infow("bootstrap done", "connected", connected, "configured", len(addrs))
	return nil
}

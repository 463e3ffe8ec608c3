package netapp

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
)

// notifee watches the host's connection set and folds it into the two coarse
// transitions the offer lifecycle cares about: everything gone, and the first
// connection coming back after everything was gone.
type notifee struct {
	service *Service

	plk       sync.Mutex
	lost      bool
	listeners []ConnListener
}

func newNotifee(s *Service) *notifee {
	return &notifee{service: s}
}

func (nn *notifee) addListener(l ConnListener) {
	nn.plk.Lock()
	defer nn.plk.Unlock()
	nn.listeners = append(nn.listeners, l)
}

func (nn *notifee) wake() {
	nn.plk.Lock()
	ls := make([]ConnListener, len(nn.listeners))
	copy(ls, nn.listeners)
	nn.plk.Unlock()

	for _, l := range ls {
		l.OnAwakeFromStandby()
	}
}

func (nn *notifee) Connected(n network.Network, v network.Conn) {
	nn.plk.Lock()
	wasLost := nn.lost
	if wasLost {
		nn.lost = false
	}
	ls := make([]ConnListener, len(nn.listeners))
	copy(ls, nn.listeners)
	nn.plk.Unlock()

	if wasLost {
		for _, l := range ls {
			l.OnNewConnectionAfterAllConnectionsLost()
		}
	}
}

func (nn *notifee) Disconnected(n network.Network, v network.Conn) {
	// Lock and re-check: a concurrent connect event may already have
	// replaced the lost connection.
	nn.plk.Lock()
	if len(n.Conns()) > 0 || nn.lost {
		nn.plk.Unlock()
		return
	}
	nn.lost = true
	ls := make([]ConnListener, len(nn.listeners))
	copy(ls, nn.listeners)
	nn.plk.Unlock()

	for _, l := range ls {
		l.OnAllConnectionsLost()
	}
}

func (nn *notifee) Listen(network.Network, ma.Multiaddr)      {}
func (nn *notifee) ListenClose(network.Network, ma.Multiaddr) {}

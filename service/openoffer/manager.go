package openoffer

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	"github.com/mercato/go-mercato/build"
	"github.com/mercato/go-mercato/config"
	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/offer"
	"github.com/mercato/go-mercato/lib/types"
	"github.com/mercato/go-mercato/service/netapp"
	"github.com/mercato/go-mercato/service/netapp/handler"
	"github.com/mercato/go-mercato/service/offerbook"
)

var logger = logging.Logger("openoffer")

var (
	ErrManagerStopped    = xerrors.New("open offer manager is stopped")
	ErrUnknownOffer      = xerrors.New("no open offer with that id")
	ErrOfferNotAvailable = xerrors.New("open offer is not available")
)

// TradeSetup prepares the funding side of a new offer before it is published:
// reserve the maker deposit in the wallet and create the fee transaction. It
// returns the fee transaction id.
type TradeSetup func(ctx context.Context, terms *types.OfferTerms) (string, error)

// Network is the slice of the messaging layer the manager needs.
type Network interface {
	Register(types.MsgType, handler.MsgHandlerFunc)
	UnRegister(types.MsgType)
	AddConnListener(netapp.ConnListener)
}

// Manager owns the full lifecycle of this node's open offers: placing,
// republishing, refreshing, reserving, canceling and closing them, plus
// answering availability requests from takers.
//
// All list and book mutations run on a single internal goroutine fed through
// the exec channel, so lifecycle operations never race each other. The
// availability responder is the one concurrent entry point; it reads offer
// state through the offers' own locks and posts mutations to the loop.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	list   *List
	book   *offerbook.Service
	net    Network
	wallet types.ReservationWallet
	feed   types.PriceFeed

	exec    chan func()
	stopped atomic.Bool

	ignore      map[string]struct{}
	arbitrators []string

	mlk         sync.Mutex
	mediators   []string
	mediatorIdx int

	republishTask task
	refreshTask   task
	retryTask     task
	startupTask   task
}

func NewManager(ctx context.Context, list *List, book *offerbook.Service, net Network,
	wallet types.ReservationWallet, feed types.PriceFeed, cfg config.OfferConfig) *Manager {
	ctx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:         ctx,
		cancel:      cancel,
		list:        list,
		book:        book,
		net:         net,
		wallet:      wallet,
		feed:        feed,
		exec:        make(chan func(), 32),
		ignore:      make(map[string]struct{}),
		arbitrators: cfg.ArbitratorAddresses,
		mediators:   cfg.MediatorAddresses,
	}
	for _, addr := range cfg.IgnoreTraders {
		m.ignore[normalizePeerID(addr)] = struct{}{}
	}
	return m
}

// normalizePeerID reduces a configured node address to its peer id so it can
// be compared against the sender of an inbound stream.
func normalizePeerID(addr string) string {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return addr
	}
	if id, err := maddr.ValueForProtocol(ma.P_P2P); err == nil {
		return id
	}
	return addr
}

// Start restores persisted open offers and mounts the availability responder.
// Republishing begins once OnBootstrapComplete fires.
func (m *Manager) Start() error {
	if err := m.list.Load(); err != nil {
		return xerrors.Errorf("load open offers: %w", err)
	}

	for _, oo := range m.list.All() {
		m.adoptOffer(oo)
	}
	logger.Infow("open offers restored", "count", m.list.Len())

	m.cleanUpReservations()

	m.net.Register(types.Msg_AvailabilityRequest, m.handleAvailabilityRequest)
	m.net.AddConnListener(m)

	m.wg.Add(2)
	go m.run()
	go func() {
		defer m.wg.Done()
		m.list.RunSaver(m.ctx)
	}()

	if m.book.IsBootstrapped() {
		m.OnBootstrapComplete()
	}
	return nil
}

func (m *Manager) adoptOffer(oo *OpenOffer) {
	oo.Offer().SetPriceFeed(m.feed)
	oo.setOnRevert(m.onReservationRevert)
}

// cleanUpReservations releases wallet reservations that no longer belong to
// any open offer, e.g. after a crash between funding and publish.
func (m *Manager) cleanUpReservations() {
	for _, e := range m.wallet.OpenOfferEntries() {
		if _, ok := m.list.Get(e.OfferID); ok {
			continue
		}
		logger.Infow("releasing orphaned reservation", "offer", e.OfferID, "address", e.Address)
		m.wallet.ReleaseForOffer(e.OfferID)
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.exec:
			fn()
		case <-m.ctx.Done():
			return
		}
	}
}

// enqueue posts work to the manager loop without waiting for it.
func (m *Manager) enqueue(fn func()) {
	select {
	case m.exec <- fn:
	case <-m.ctx.Done():
	}
}

// call posts work to the manager loop and waits for its result.
func (m *Manager) call(fn func() error) error {
	done := make(chan error, 1)
	select {
	case m.exec <- func() { done <- fn() }:
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// OnBootstrapComplete is invoked once the replicated store has synced with
// the network. It publishes our offers, schedules a second pass shortly after
// startup to cover peers we had not met during the first one, and starts the
// periodic republish cycle. The refresh cycle starts once a republish has
// actually succeeded; refreshing an entry the store never accepted is useless.
func (m *Manager) OnBootstrapComplete() {
	m.enqueue(func() {
		m.republishOffers()
		m.startupTask.schedule(build.RepublishAgainAtStartupDelay, func() {
			m.enqueue(m.republishOffers)
		})
		m.startPeriodicRepublish()
	})
}

// startPeriodicRepublish is a no-op while the cycle is already running.
func (m *Manager) startPeriodicRepublish() {
	if m.republishTask.active() {
		return
	}
	m.schedulePeriodicRepublish()
}

func (m *Manager) startPeriodicRefresh() {
	if m.refreshTask.active() {
		return
	}
	m.schedulePeriodicRefresh()
}

func (m *Manager) schedulePeriodicRepublish() {
	m.republishTask.schedule(build.RepublishInterval, func() {
		m.enqueue(func() {
			m.republishOffers()
			m.schedulePeriodicRepublish()
		})
	})
}

func (m *Manager) schedulePeriodicRefresh() {
	m.refreshTask.schedule(build.RefreshInterval, func() {
		m.enqueue(func() {
			m.refreshOffers()
			m.schedulePeriodicRefresh()
		})
	})
}

// jitterWindow picks a random delay for the i-th item of a batch from the
// window [(i+1)*step, (i+2)*step), spreading items out so a burst of
// publishes stays under the transport's throttling limit.
func jitterWindow(i int, step time.Duration) time.Duration {
	min := time.Duration(i+1) * step
	return min + time.Duration(rand.Int63n(int64(step)))
}

func (m *Manager) republishOffers() {
	if m.stopped.Load() {
		return
	}
	m.retryTask.stop()

	offers := m.list.All()
	logger.Infow("republishing offers", "count", len(offers))

	for i, oo := range offers {
		if strings.Contains(oo.ID(), "_") {
			// id format of a protocol generation we no longer serve
			logger.Warnw("skipping republish of legacy offer", "offer", oo.ID())
			continue
		}
		oo := oo
		time.AfterFunc(jitterWindow(i, build.RepublishItemDelay), func() {
			m.enqueue(func() { m.republishOffer(oo) })
		})
	}
}

func (m *Manager) republishOffer(oo *OpenOffer) {
	if m.stopped.Load() {
		return
	}
	// conditions may have changed during the batch delay
	if _, ok := m.list.Get(oo.ID()); !ok {
		return
	}

	if err := m.book.Publish(oo.Offer().Terms()); err != nil {
		logger.Warnw("republish failed, retrying whole pass", "offer", oo.ShortID(), "err", err)
		m.retryTask.schedule(build.RetryRepublishDelay, func() {
			m.enqueue(m.republishOffers)
		})
		return
	}
	oo.Offer().SetState(types.Offer_Available)
	m.startPeriodicRefresh()
}

func (m *Manager) refreshOffers() {
	if m.stopped.Load() {
		return
	}

	offers := m.list.All()
	logger.Debugw("refreshing offer ttls", "count", len(offers))

	for i, oo := range offers {
		oo := oo
		time.AfterFunc(jitterWindow(i, build.RefreshItemDelay), func() {
			m.enqueue(func() { m.refreshOffer(oo) })
		})
	}
}

func (m *Manager) refreshOffer(oo *OpenOffer) {
	if m.stopped.Load() {
		return
	}
	if _, ok := m.list.Get(oo.ID()); !ok {
		return
	}
	// a reserved offer keeps its book entry but there is no point paying
	// for a refresh if the taker is about to take it off the book anyway
	if !oo.IsAvailable() {
		return
	}

	if err := m.book.RefreshTTL(oo.Offer().Terms()); err != nil {
		logger.Warnw("ttl refresh failed", "offer", oo.ShortID(), "err", err)
	}
}

// PlaceOffer funds and publishes a new offer. The setup callback runs before
// anything becomes visible to the network; if the publish fails afterwards
// the wallet reservation is released again.
func (m *Manager) PlaceOffer(terms *types.OfferTerms, setup TradeSetup) (*OpenOffer, error) {
	if m.stopped.Load() {
		return nil, ErrManagerStopped
	}

	feeTxID, err := setup(m.ctx, terms)
	if err != nil {
		return nil, xerrors.Errorf("trade setup for offer %s: %w", terms.ID, err)
	}
	if terms.FeeTxID == "" {
		if err := terms.SetFeeTxID(feeTxID); err != nil {
			return nil, err
		}
	}

	var oo *OpenOffer
	err = m.call(func() error {
		if m.stopped.Load() {
			return ErrManagerStopped
		}
		if err := m.book.Publish(terms); err != nil {
			return err
		}
		oo = New(offer.New(terms))
		m.adoptOffer(oo)
		oo.Offer().SetState(types.Offer_Available)
		m.list.Add(oo)
		m.list.QueueSave()
		// the first placed offer may well predate bootstrap completion;
		// it still needs its maintenance cycles
		m.startPeriodicRepublish()
		m.startPeriodicRefresh()
		logger.Infow("offer placed", "offer", oo.ShortID())
		return nil
	})
	if err != nil {
		m.wallet.ReleaseForOffer(terms.ID)
		return nil, err
	}
	return oo, nil
}

// Reserve marks an available offer as reserved for a taker. The reservation
// reverts automatically if the trade does not progress in time.
func (m *Manager) Reserve(offerID string) error {
	return m.call(func() error {
		oo, ok := m.list.Get(offerID)
		if !ok {
			return ErrUnknownOffer
		}
		if !oo.IsAvailable() {
			return ErrOfferNotAvailable
		}
		oo.SetState(Open_Reserved)
		m.list.QueueSave()
		return nil
	})
}

// Cancel withdraws an offer: it must leave the replicated book before the
// wallet reservation is released and the record moves to the closed log.
func (m *Manager) Cancel(offerID string) error {
	return m.call(func() error {
		oo, ok := m.list.Get(offerID)
		if !ok {
			return ErrUnknownOffer
		}
		if err := m.book.Remove(oo.Offer().Terms()); err != nil {
			return err
		}
		oo.SetState(Open_Canceled)
		oo.Offer().SetState(types.Offer_Removed)
		m.wallet.ReleaseForOffer(offerID)
		if err := m.list.Remove(oo); err != nil {
			return err
		}
		logger.Infow("offer canceled", "offer", oo.ShortID())
		return nil
	})
}

// Close retires an offer whose trade went through. The wallet reservation is
// not released; the funds belong to the trade now. A failing book remove is
// only logged since the entry expires on its own.
func (m *Manager) Close(offerID string) error {
	return m.call(func() error {
		oo, ok := m.list.Get(offerID)
		if !ok {
			return ErrUnknownOffer
		}
		if err := m.book.Remove(oo.Offer().Terms()); err != nil {
			logger.Warnw("book remove on close failed, entry will expire",
				"offer", oo.ShortID(), "err", err)
		}
		oo.SetState(Open_Closed)
		if err := m.list.Remove(oo); err != nil {
			return err
		}
		logger.Infow("offer closed", "offer", oo.ShortID())
		return nil
	})
}

// RemoveAll cancels every open offer. Errors are collected per offer; the
// remaining offers are still attempted.
func (m *Manager) RemoveAll() error {
	var firstErr error
	for _, oo := range m.list.All() {
		if err := m.Cancel(oo.ID()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) onReservationRevert(oo *OpenOffer) {
	m.enqueue(func() {
		m.list.QueueSave()
	})
}

// Open returns the current open offers.
func (m *Manager) Open() []*OpenOffer {
	return m.list.All()
}

// Shutdown removes our offers from the replicated book so peers do not see
// stale entries while we are gone, then stops the loop. Removes go out
// without batching delays; if the store never bootstrapped there is nothing
// to retract. Returns the number of offers retracted.
func (m *Manager) Shutdown() int {
	m.stopped.Store(true)
	m.startupTask.stop()
	m.republishTask.stop()
	m.refreshTask.stop()
	m.retryTask.stop()
	m.net.UnRegister(types.Msg_AvailabilityRequest)

	removed := 0
	if m.book.IsBootstrapped() {
		for _, oo := range m.list.All() {
			if err := m.book.RemoveAtShutdown(oo.Offer().Terms()); err != nil {
				logger.Warnw("shutdown remove failed", "offer", oo.ShortID(), "err", err)
				continue
			}
			removed++
		}
	}
	logger.Infow("open offer manager stopped", "retracted", removed)

	m.cancel()
	m.wg.Wait()
	return removed
}

// OnAllConnectionsLost pauses all publishing work and arms a one-shot
// reconnect attempt; the network may come back without us ever seeing a
// Connected event for it.
func (m *Manager) OnAllConnectionsLost() {
	logger.Warnw("all connections lost, pausing offer maintenance")
	m.stopped.Store(true)
	m.startupTask.stop()
	m.republishTask.stop()
	m.refreshTask.stop()
	m.retryTask.stop()
	m.restartAfterBackoff()
}

// OnNewConnectionAfterAllConnectionsLost resumes and republishes immediately;
// peers may have purged our entries while we were offline.
func (m *Manager) OnNewConnectionAfterAllConnectionsLost() {
	logger.Infow("connectivity restored, republishing offers")
	m.resume()
}

// OnAwakeFromStandby fires when the process slept through its timers but
// still holds at least one live connection; entries on peers may have expired
// in the meantime.
func (m *Manager) OnAwakeFromStandby() {
	logger.Infow("awake from standby, republishing offers")
	m.resume()
}

func (m *Manager) resume() {
	m.stopped.Store(false)
	m.enqueue(func() {
		m.republishOffers()
		m.startPeriodicRepublish()
	})
}

// restartAfterBackoff schedules a single resume attempt; arming it while one
// is already pending is a no-op.
func (m *Manager) restartAfterBackoff() {
	if m.retryTask.active() {
		return
	}
	m.retryTask.schedule(build.RetryRepublishDelay, func() {
		m.resume()
	})
}

// handleAvailabilityRequest answers a taker asking whether one of our offers
// is still takeable. Malformed requests and requests arriving while we are
// not in a position to answer are dropped without a response; every decided
// outcome goes back as a result value, never a transport error.
func (m *Manager) handleAvailabilityRequest(ctx context.Context, from peer.ID, env *types.Envelope) (*types.Envelope, error) {
	if !m.book.IsBootstrapped() || m.stopped.Load() {
		return nil, nil
	}

	req := new(types.AvailabilityRequest)
	if err := req.Deserialize(env.Data); err != nil {
		logger.Debugw("undecodable availability request", "peer", from, "err", err)
		return nil, nil
	}
	if req.OfferID == "" || req.Uid == "" || len(req.PubKey) == 0 {
		logger.Debugw("availability request missing ids or pub key", "peer", from)
		return nil, nil
	}

	result := m.decideAvailability(from, req)
	logger.Infow("availability request answered",
		"offer", req.OfferID, "peer", from, "result", result)

	resp := &types.AvailabilityResponse{
		OfferID: req.OfferID,
		Uid:     req.Uid,
		Result:  result,
	}
	return resp.Envelope()
}

func (m *Manager) decideAvailability(from peer.ID, req *types.AvailabilityRequest) types.AvailabilityResult {
	oo, ok := m.list.Get(req.OfferID)
	if !ok {
		// not distinguishable from taken without leaking history
		return types.Avail_OfferTaken
	}
	if !oo.IsAvailable() {
		return types.Avail_OfferTaken
	}
	if _, ignored := m.ignore[from.String()]; ignored {
		return types.Avail_UserIgnored
	}
	if len(m.arbitrators) == 0 {
		return types.Avail_NoArbitrators
	}

	if err := oo.Offer().VerifyTakersTradePrice(req.TakersTradePrice); err != nil {
		var oot *offer.OutOfToleranceError
		switch {
		case errors.As(err, &oot):
			return types.Avail_PriceOutOfTolerance
		case errors.Is(err, offer.ErrPriceUnavailable):
			return types.Avail_MarketPriceNotAvailable
		default:
			return types.Avail_UnknownFailure
		}
	}

	mediator, ok := m.nextMediator(oo.Offer().Terms())
	if !ok {
		return types.Avail_NoMediators
	}

	// Record the mediator the taker will get, but leave the offer available:
	// a probe is not a commitment, and only the deposit negotiation (Reserve)
	// may lock the offer. Two takers probing the same offer both hear
	// Available; exclusivity is settled by the deposit transaction.
	m.enqueue(func() {
		if cur, ok := m.list.Get(req.OfferID); ok && cur.IsAvailable() {
			cur.SetMediatorAddress(mediator)
			m.list.QueueSave()
		}
	})
	return types.Avail_Available
}

// nextMediator picks a mediator round-robin from the offer's own accepted
// list, falling back to ours.
func (m *Manager) nextMediator(terms *types.OfferTerms) (string, bool) {
	candidates := terms.MediatorAddresses
	if len(candidates) == 0 {
		candidates = m.mediators
	}
	if len(candidates) == 0 {
		return "", false
	}

	m.mlk.Lock()
	defer m.mlk.Unlock()
	mediator := candidates[m.mediatorIdx%len(candidates)]
	m.mediatorIdx++
	return mediator, true
}

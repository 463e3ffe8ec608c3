package repo

import (
	"crypto/rand"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/mercato/go-mercato/config"
	"github.com/mercato/go-mercato/lib/backend/kv"
	"github.com/mercato/go-mercato/lib/types/store"
)

// MemRepo is an in-memory implementation of the repo interface, for tests.
type MemRepo struct {
	// lk guards the config
	lk   sync.RWMutex
	C    *config.Config
	Meta store.KVStore

	key crypto.PrivKey
}

var _ Repo = (*MemRepo)(nil)

// NewInMemoryRepo makes a new instance of MemRepo
func NewInMemoryRepo() *MemRepo {
	return &MemRepo{
		C:    config.NewDefaultConfig(),
		Meta: kv.NewMemStore(),
	}
}

func (mr *MemRepo) Config() *config.Config {
	mr.lk.RLock()
	defer mr.lk.RUnlock()
	return mr.C
}

func (mr *MemRepo) ReplaceConfig(cfg *config.Config) error {
	mr.lk.Lock()
	defer mr.lk.Unlock()
	mr.C = cfg
	return nil
}

func (mr *MemRepo) MetaStore() store.KVStore {
	return mr.Meta
}

func (mr *MemRepo) PeerKey() (crypto.PrivKey, error) {
	mr.lk.Lock()
	defer mr.lk.Unlock()
	if mr.key == nil {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, err
		}
		mr.key = priv
	}
	return mr.key, nil
}

func (mr *MemRepo) Path() (string, error) {
	return "", nil
}

func (mr *MemRepo) Close() error {
	return mr.Meta.Close()
}

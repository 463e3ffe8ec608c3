package repo

import (
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/mercato/go-mercato/config"
	"github.com/mercato/go-mercato/lib/types/store"
)

// Repo is a representation of all persistent data of a mercato node.
type Repo interface {
	Config() *config.Config

	// ReplaceConfig replaces the current config, with the newly passed in one.
	ReplaceConfig(cfg *config.Config) error

	// MetaStore holds open offer records, wallet reservations and other
	// node metadata.
	MetaStore() store.KVStore

	// PeerKey loads the node's network identity, creating it on first use.
	PeerKey() (crypto.PrivKey, error)

	Path() (string, error)

	Close() error
}

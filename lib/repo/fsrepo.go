package repo

import (
	"crypto/rand"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	lockfile "github.com/ipfs/go-fs-lock"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/mercato/go-mercato/config"
	"github.com/mercato/go-mercato/lib/backend/kv"
	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/types/store"
)

const (
	configFilename     = "config.json"
	tempConfigFilename = ".config.json.temp"
	lockFile           = "repo.lock"
	peerKeyFilename    = "peer.key"

	metaPathPrefix = "meta" // $MercatoPath/meta
)

var logger = logging.Logger("repo")

// FSRepo is a repo implementation backed by a filesystem.
type FSRepo struct {
	// Path to the repo root directory.
	path string

	// lk protects the config file
	lk  sync.RWMutex
	cfg *config.Config

	metaDs store.KVStore

	// lockfile is the file system lock to prevent others from opening the same repo.
	lockfile io.Closer
}

var _ Repo = (*FSRepo)(nil)

// NewFSRepo opens the repo at dir, initializing it from cfg when no repo
// exists there yet. A nil cfg on a fresh directory is an error; the caller is
// expected to run init first.
func NewFSRepo(dir string, cfg *config.Config) (*FSRepo, error) {
	repoPath, err := homedir.Expand(dir)
	if err != nil {
		return nil, err
	}

	if repoPath == "" { // path contained no separator
		repoPath = "./"
	}

	if err := ensureWritableDirectory(repoPath); err != nil {
		return nil, xerrors.Errorf("no writable directory %w", err)
	}

	hasConfig, err := hasConfig(repoPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to check for repo config %w", err)
	}

	if !hasConfig {
		if cfg != nil {
			logger.Info("initializing mercato repo at: ", repoPath)
			if err = initConfig(repoPath, cfg); err != nil {
				return nil, err
			}
		} else {
			return nil, xerrors.Errorf("no repo found at %s; run: 'init [--repo=%s]'", repoPath, repoPath)
		}
	}

	r := &FSRepo{path: repoPath}

	r.lockfile, err = lockfile.Lock(r.path, lockFile)
	if err != nil {
		return nil, xerrors.Errorf("failed to take repo lock %w", err)
	}

	if err := r.loadFromDisk(); err != nil {
		_ = r.lockfile.Close()
		return nil, err
	}

	logger.Info("open repo at: ", repoPath)

	return r, nil
}

func (r *FSRepo) loadFromDisk() error {
	if err := r.loadConfig(); err != nil {
		return xerrors.Errorf("failed to load config file %w", err)
	}

	if err := r.openMetaStore(); err != nil {
		return xerrors.Errorf("failed to open meta store %w", err)
	}

	return nil
}

func (r *FSRepo) Config() *config.Config {
	r.lk.RLock()
	defer r.lk.RUnlock()

	return r.cfg
}

// ReplaceConfig replaces the current config with the newly passed in one.
func (r *FSRepo) ReplaceConfig(cfg *config.Config) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	r.cfg = cfg
	tmp := filepath.Join(r.path, tempConfigFilename)
	err := os.RemoveAll(tmp)
	if err != nil {
		return err
	}
	err = r.cfg.WriteFile(tmp)
	if err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(r.path, configFilename))
}

func (r *FSRepo) MetaStore() store.KVStore {
	return r.metaDs
}

// PeerKey loads the node's network identity key, creating an ed25519 key on
// first use.
func (r *FSRepo) PeerKey() (crypto.PrivKey, error) {
	keyFile := filepath.Join(r.path, peerKeyFilename)

	data, err := os.ReadFile(keyFile)
	if err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("failed to read peer key %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyFile, data, 0600); err != nil {
		return nil, xerrors.Errorf("failed to write peer key %w", err)
	}
	logger.Info("generated new peer identity")
	return priv, nil
}

// Close closes the repo.
func (r *FSRepo) Close() error {
	if err := r.metaDs.Close(); err != nil {
		return xerrors.Errorf("failed to close meta datastore %w", err)
	}

	return r.lockfile.Close()
}

func hasConfig(p string) (bool, error) {
	configPath := filepath.Join(p, configFilename)

	_, err := os.Lstat(configPath)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

func (r *FSRepo) loadConfig() error {
	configFile := filepath.Join(r.path, configFilename)

	cfg, err := config.ReadFile(configFile)
	if err != nil {
		return xerrors.Errorf("failed to read config file at %q %w", configFile, err)
	}

	r.cfg = cfg
	return nil
}

func (r *FSRepo) openMetaStore() error {
	mpath := r.cfg.Data.MetaPath
	if mpath == "" {
		mpath = path.Join(r.path, metaPathPrefix)
	}

	opt := kv.DefaultOptions

	ds, err := kv.NewBadgerStore(mpath, &opt)
	if err != nil {
		return err
	}

	r.metaDs = ds

	return nil
}

func initConfig(p string, cfg *config.Config) error {
	configFile := filepath.Join(p, configFilename)
	exists, err := fileExists(configFile)
	if err != nil {
		return xerrors.Errorf("failed to inspect config file %w", err)
	} else if exists {
		return xerrors.Errorf("config file already exists: %s", configFile)
	}

	return cfg.WriteFile(configFile)
}

// Ensures that path points to a read/writable directory, creating it if necessary.
func ensureWritableDirectory(path string) error {
	// Attempt to create the requested directory, accepting that something might already be there.
	err := os.Mkdir(path, 0775)

	if err == nil {
		return nil // Skip the checks below, we just created it.
	} else if !os.IsExist(err) {
		return xerrors.Errorf("failed to create directory %s %w", path, err)
	}

	// Inspect existing directory.
	stat, err := os.Stat(path)
	if err != nil {
		return xerrors.Errorf("failed to stat path %s %w", path, err)
	}
	if !stat.IsDir() {
		return xerrors.Errorf("%s is not a directory", path)
	}
	if (stat.Mode() & 0600) != 0600 {
		return xerrors.Errorf("insufficient permissions for path %s, got %04o need %04o", path, stat.Mode(), 0600)
	}
	return nil
}

// Exists reports whether a repo is already initialized at repoPath.
func Exists(repoPath string) (bool, error) {
	_, err := os.Stat(filepath.Join(repoPath, configFilename))
	notExist := os.IsNotExist(err)
	if notExist {
		err = nil
	}
	return !notExist, err
}

func fileExists(file string) (bool, error) {
	_, err := os.Stat(file)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Path returns the path the fsrepo is at
func (r *FSRepo) Path() (string, error) {
	return r.path, nil
}

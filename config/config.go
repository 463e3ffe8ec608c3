package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is an in memory representation of the mercato configuration file
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Net      NetConfig      `json:"net"`
	Offer    OfferConfig    `json:"offer"`
	Price    PriceConfig    `json:"price"`
	Data     DataConfig     `json:"data"`
}

type IdentityConfig struct {
	Name string `json:"name"`
}

func newDefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// NetConfig holds all configuration options related to the p2p host.
type NetConfig struct {
	Addresses []string `json:"addresses"`
	Bootstrap []string `json:"bootstrap"`
}

func newDefaultNetConfig() NetConfig {
	return NetConfig{
		Addresses: []string{
			"/ip4/0.0.0.0/tcp/7802",
			"/ip6/::/tcp/7802",
		},
		Bootstrap: []string{},
	}
}

// OfferConfig holds offer lifecycle options.
type OfferConfig struct {
	// PublishStatistics enables the sanitized offer snapshot side channel.
	PublishStatistics bool `json:"publishStatistics"`

	// IgnoreTraders lists node addresses whose availability requests get
	// answered with USER_IGNORED.
	IgnoreTraders []string `json:"ignoreTraders"`

	// Accepted dispute agents. An offer cannot be reported available
	// without at least one arbitrator.
	ArbitratorAddresses []string `json:"arbitratorAddresses"`
	MediatorAddresses   []string `json:"mediatorAddresses"`
}

func newDefaultOfferConfig() OfferConfig {
	return OfferConfig{
		PublishStatistics: false,
		IgnoreTraders:     []string{},
	}
}

// PriceConfig points at the external market price provider. An empty URL
// disables polling; market-based offers then report their price as
// unavailable.
type PriceConfig struct {
	ProviderURL     string `json:"providerUrl"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

func newDefaultPriceConfig() PriceConfig {
	return PriceConfig{
		IntervalSeconds: 90,
	}
}

type DataConfig struct {
	MetaPath string `json:"metaPath"`
}

func newDefaultDataConfig() DataConfig {
	return DataConfig{}
}

// NewDefaultConfig returns a config object with all the fields filled out to
// their default values
func NewDefaultConfig() *Config {
	return &Config{
		Identity: newDefaultIdentityConfig(),
		Net:      newDefaultNetConfig(),
		Offer:    newDefaultOfferConfig(),
		Price:    newDefaultPriceConfig(),
		Data:     newDefaultDataConfig(),
	}
}

// WriteFile writes the config to the given filepath.
func (cfg *Config) WriteFile(file string) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s for writing", file)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}

// ReadFile reads a config file from disk, applying defaults for absent fields.
func ReadFile(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", file)
	}
	defer f.Close()

	cfg := NewDefaultConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", file)
	}
	return cfg, nil
}

package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes one deployment of the protocol contracts.
type NetworkDefinition struct {
	RPCURL      string            `yaml:"rpc_url"`
	WSURL       string            `yaml:"ws_url"`
	ChainID     int64             `yaml:"chain_id"`
	Contracts   map[string]string `yaml:"contracts"`
	Description string            `yaml:"description"`
}

// LoadNetworkDefinitions parses the YAML file holding network metadata.
// An empty path yields an empty definition set.
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]NetworkDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, xerrors.Wrap(xerrors.CodeConfig, err, "read network definitions")
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, xerrors.Wrap(xerrors.CodeConfig, err, "decode network definitions")
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	return defs, nil
}

// Apply overlays the named network profile onto cfg. Fields the user set
// explicitly in cfg win over the profile.
func (d NetworkDefinitions) Apply(name string, cfg *Config) error {
	def, ok := d.Networks[name]
	if !ok {
		return xerrors.New(xerrors.CodeConfig, "unknown network: "+name)
	}
	if cfg.Network.RPCURL == "" {
		cfg.Network.RPCURL = def.RPCURL
	}
	if cfg.Network.ChainID == 0 {
		cfg.Network.ChainID = def.ChainID
	}
	apply := func(dst *string, key string) {
		if *dst == "" {
			*dst = def.Contracts[key]
		}
	}
	apply(&cfg.Contracts.Token, "token")
	apply(&cfg.Contracts.PaymentRouter, "payment_router")
	apply(&cfg.Contracts.Reputation, "reputation")
	apply(&cfg.Contracts.ServiceRegistry, "service_registry")
	apply(&cfg.Contracts.Channel, "channel")
	cfg.Network.Name = name
	return nil
}

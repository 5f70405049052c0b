package config

import (
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// DomainOverridesConfig holds per-domain-ID overrides layered on top of
// a global Config, for a process hosting participants across several
// DDS domain IDs with different transport/QoS defaults.
type DomainOverridesConfig struct {
	Domains map[string]Config `yaml:"domains"`
}

// Manager resolves the effective Config for a given domain ID by
// merging a domain-specific override document onto the global config.
type Manager struct {
	globalConfig  *Config
	domainConfigs map[string]Config
	mu            sync.RWMutex
}

// NewManager loads both the global config and a domain-overrides
// document. A missing overrides file is not an error: the manager
// falls back to the global config for every domain.
func NewManager(globalPath, overridesPath string) (*Manager, error) {
	global, err := LoadConfig(globalPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(overridesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{globalConfig: global, domainConfigs: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var oc DomainOverridesConfig
	if err := yaml.NewDecoder(f).Decode(&oc); err != nil {
		return nil, err
	}

	return &Manager{
		globalConfig:  global,
		domainConfigs: oc.Domains,
	}, nil
}

// Get returns the effective config for domainID, merging any override
// fields on top of a copy of the global config.
func (m *Manager) Get(domainID uint32) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	override, ok := m.domainConfigs[strconv.FormatUint(uint64(domainID), 10)]
	if !ok {
		return &effective
	}

	if override.Transport.MulticastGroup != "" || override.Transport.MulticastTTL != 0 {
		effective.Transport.MulticastGroup = firstNonEmpty(override.Transport.MulticastGroup, effective.Transport.MulticastGroup)
		if override.Transport.MulticastTTL != 0 {
			effective.Transport.MulticastTTL = override.Transport.MulticastTTL
		}
	}
	if override.Transport.SHM.RingCapacity != 0 {
		effective.Transport.SHM = override.Transport.SHM
	}
	if override.Transport.LBW.MTU != 0 || override.Transport.LBW.Enabled {
		effective.Transport.LBW = override.Transport.LBW
	}
	if override.Discovery.SPDPPeriodMs != 0 || override.Discovery.LeaseDurationSec != 0 {
		effective.Discovery = override.Discovery
	}
	if override.QoS.ProfileFile != "" {
		effective.QoS = override.QoS
	}
	if override.Permissions.FilePath != "" {
		effective.Permissions = override.Permissions
	}
	if override.Recording.OutputDir != "" {
		effective.Recording = override.Recording
	}
	if override.Security.HMACSecret != "" {
		effective.Security = override.Security
	}

	return &effective
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

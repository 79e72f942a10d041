// Package platform holds the bootstrap defaults both agents seed before
// entering their notification loops.
package platform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soniclab/swsslite/internal/identity"
)

// Defaults describes the fixed platform both agents assume at startup.
type Defaults struct {
	// Ports is the ordered default front-panel port list.
	Ports []string `yaml:"ports"`
	// AdminStatus, Speed and MTU are the initial values for default ports.
	AdminStatus string `yaml:"admin_status"`
	Speed       string `yaml:"speed"`
	MTU         string `yaml:"mtu"`
	// OIDBase seeds the sync daemon's identity allocator.
	OIDBase uint64 `yaml:"oid_base"`
}

// Builtin returns the compiled-in platform defaults.
func Builtin() *Defaults {
	return &Defaults{
		Ports: []string{
			"Ethernet0", "Ethernet4", "Ethernet8",
			"Ethernet12", "Ethernet16", "Ethernet20",
		},
		AdminStatus: "up",
		Speed:       "25000",
		MTU:         "9100",
		OIDBase:     identity.DefaultBase,
	}
}

// Load reads platform defaults from a YAML file. Fields absent from the
// file keep their built-in values; an empty path returns the built-ins.
func Load(path string) (*Defaults, error) {
	defaults := Builtin()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform file: %w", err)
	}

	if err := yaml.Unmarshal(data, defaults); err != nil {
		return nil, fmt.Errorf("failed to parse platform file %s: %w", path, err)
	}

	if len(defaults.Ports) == 0 {
		return nil, fmt.Errorf("platform file %s defines no ports", path)
	}

	return defaults, nil
}

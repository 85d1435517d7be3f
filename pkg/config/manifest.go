package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

// ErrNoManifest is returned when a project has no manifest file.
var ErrNoManifest = errors.New("config: no diamond.yaml or diamond.toml found")

// ManifestNames are searched in order.
var ManifestNames = []string{"diamond.yaml", "diamond.yml", "diamond.toml"}

// Network describes one target network.
type Network struct {
	Live          bool   `yaml:"live" toml:"live"`
	ChainID       uint64 `yaml:"chain_id" toml:"chain_id"`
	Confirmations int    `yaml:"confirmations" toml:"confirmations"`
	ExplorerURL   string `yaml:"explorer_url" toml:"explorer_url"`
}

// ConfirmationDepth is the configured depth, or 4 on live networks and 1
// elsewhere.
func (n Network) ConfirmationDepth() int {
	if n.Confirmations > 0 {
		return n.Confirmations
	}
	return channel.DefaultConfirmations(n.Live)
}

// DiamondModules names the modules the diamond is built from.
type DiamondModules struct {
	CutFacet  string   `yaml:"cut_facet" toml:"cut_facet"`
	Init      string   `yaml:"init" toml:"init"`
	Bootstrap []string `yaml:"bootstrap" toml:"bootstrap"`
}

// Fund is a token transfer to the diamond after deployment.
type Fund struct {
	Token string `yaml:"token" toml:"token"`
	// Amount is in the token's base units.
	Amount string `yaml:"amount" toml:"amount"`
}

// Compiler settings recorded with each deployment.
type Compiler struct {
	Version       string `yaml:"version" toml:"version"`
	OptimizerRuns int    `yaml:"optimizer_runs" toml:"optimizer_runs"`
}

// Manifest is the project description.
type Manifest struct {
	Networks    map[string]Network `yaml:"networks" toml:"networks"`
	Base        []string           `yaml:"base" toml:"base"`
	Diamond     DiamondModules     `yaml:"diamond" toml:"diamond"`
	Facets      []string           `yaml:"facets" toml:"facets"`
	Funds       []Fund             `yaml:"funds" toml:"funds"`
	Policy      string             `yaml:"policy" toml:"policy"`
	AddressMap  string             `yaml:"address_map" toml:"address_map"`
	Initializer string             `yaml:"initializer" toml:"initializer"`
	Compiler    Compiler           `yaml:"compiler" toml:"compiler"`
}

// FindManifest returns the first manifest file in root.
func FindManifest(root string) (string, error) {
	for _, n := range ManifestNames {
		p := filepath.Join(root, n)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, root)
}

// LoadManifest decodes path by extension. Unknown keys are errors.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, &m)
		if err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		if und := meta.Undecoded(); len(und) > 0 {
			return nil, fmt.Errorf("parse manifest %s: unknown key %s", path, und[0])
		}
	default:
		return nil, fmt.Errorf("load manifest: unsupported format %q", path)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Diamond.CutFacet == "" {
		m.Diamond.CutFacet = "DiamondCutFacet"
	}
	if m.Diamond.Init == "" {
		m.Diamond.Init = "DiamondInit"
	}
	if len(m.Diamond.Bootstrap) == 0 {
		m.Diamond.Bootstrap = []string{"DiamondLoupeFacet", "DiamondOwnershipFacet"}
	}
	if len(m.Base) == 0 {
		m.Base = append([]string{m.Diamond.Init, m.Diamond.CutFacet}, m.Diamond.Bootstrap...)
	}
	if m.Initializer == "" {
		m.Initializer = selector.DefaultInitializer
	}
	if m.Compiler.OptimizerRuns == 0 {
		m.Compiler.OptimizerRuns = 600
	}
}

// Validate checks module lists and policy settings.
func (m *Manifest) Validate() error {
	seen := make(map[string]string)
	for _, group := range []struct {
		name  string
		items []string
	}{{"base", m.Base}, {"facets", m.Facets}} {
		for _, n := range group.items {
			if strings.TrimSpace(n) == "" {
				return fmt.Errorf("manifest: empty module name in %s", group.name)
			}
			if prev, dup := seen[n]; dup {
				return fmt.Errorf("manifest: module %s listed in %s and %s", n, prev, group.name)
			}
			seen[n] = group.name
		}
	}
	for _, n := range append([]string{m.Diamond.CutFacet, m.Diamond.Init}, m.Diamond.Bootstrap...) {
		if seen[n] != "base" {
			return fmt.Errorf("manifest: diamond module %s must be listed in base", n)
		}
	}
	for i, f := range m.Funds {
		if f.Token == "" || f.Amount == "" {
			return fmt.Errorf("manifest: fund %d needs token and amount", i)
		}
	}
	if m.Compiler.OptimizerRuns < 0 {
		return fmt.Errorf("manifest: compiler.optimizer_runs must not be negative, got %d", m.Compiler.OptimizerRuns)
	}
	if _, err := ledger.ParseStrictness(m.AddressMap); err != nil {
		return fmt.Errorf("manifest: address_map: %w", err)
	}
	if _, err := selector.Of(m.Initializer); err != nil {
		return fmt.Errorf("manifest: initializer: %w", err)
	}
	return nil
}

// Network returns the named network. Unlisted development networks are
// non-live with default confirmations.
func (m *Manifest) Network(name string) (Network, error) {
	if n, ok := m.Networks[name]; ok {
		return n, nil
	}
	switch name {
	case "local", "hardhat", "localhost":
		return Network{}, nil
	}
	return Network{}, fmt.Errorf("manifest: unknown network %q", name)
}

// Strictness is the address map read policy.
func (m *Manifest) Strictness() ledger.Strictness {
	s, _ := ledger.ParseStrictness(m.AddressMap)
	return s
}

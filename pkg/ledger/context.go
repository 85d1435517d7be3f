package ledger

import (
	"fmt"
	"regexp"
)

// Environment separates production histories from staging ones.
type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

// EnvironmentFor maps the PRODUCTION switch to an environment.
func EnvironmentFor(production bool) Environment {
	if production {
		return Production
	}
	return Staging
}

var networkName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Context selects the partition every ledger call reads and writes.
type Context struct {
	Network     string
	Environment Environment
}

// Validate rejects contexts that cannot name a ledger file.
func (c Context) Validate() error {
	if !networkName.MatchString(c.Network) {
		return fmt.Errorf("ledger: invalid network name %q", c.Network)
	}
	switch c.Environment {
	case Production, Staging:
		return nil
	default:
		return fmt.Errorf("ledger: invalid environment %q", c.Environment)
	}
}

func (c Context) prefix() string {
	if c.Environment == Production {
		return c.Network
	}
	return c.Network + "_staging"
}

// AddressFile is the address map file name for c.
func (c Context) AddressFile() string { return c.prefix() + "_addresses.json" }

// DiamondFile is the diamond file name for c.
func (c Context) DiamondFile() string { return c.prefix() + "_diamond.json" }

// DetailsFile is the deployment ledger file shared by every partition.
const DetailsFile = "deployment_details.json"

func (c Context) String() string {
	return c.Network + "/" + string(c.Environment)
}

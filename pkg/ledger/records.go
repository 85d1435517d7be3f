package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// TimestampLayout is the UTC layout of DeploymentRecord.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in the ledger's layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Verified is written as the strings "true" and "false". Older files with
// JSON booleans are accepted.
type Verified bool

func (v Verified) MarshalJSON() ([]byte, error) {
	if v {
		return []byte(`"true"`), nil
	}
	return []byte(`"false"`), nil
}

func (v *Verified) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"true"`, `true`:
		*v = true
	case `"false"`, `false`:
		*v = false
	default:
		return fmt.Errorf("ledger: invalid VERIFIED value %s", b)
	}
	return nil
}

// DeploymentRecord is one deployment of a module version.
type DeploymentRecord struct {
	Address         diamond.Address `json:"ADDRESS"`
	OptimizerRuns   string          `json:"OPTIMIZER_RUNS"`
	Timestamp       string          `json:"TIMESTAMP"`
	ConstructorArgs string          `json:"CONSTRUCTOR_ARGS"`
	Verified        Verified        `json:"VERIFIED"`
}

// Validate checks the fields a record must carry before it is appended.
func (r DeploymentRecord) Validate() error {
	if !r.Address.Valid() || r.Address.IsZero() {
		return fmt.Errorf("ledger: record address %q: %w", r.Address, diamond.ErrInvalidAddress)
	}
	if _, err := time.Parse(TimestampLayout, r.Timestamp); err != nil {
		return fmt.Errorf("ledger: record timestamp %q: %w", r.Timestamp, err)
	}
	if !isDecimal(r.OptimizerRuns, true) {
		return fmt.Errorf("ledger: optimizer runs %q: %w", r.OptimizerRuns, ErrInvalidRecord)
	}
	return nil
}

func isDecimal(s string, allowEmpty bool) bool {
	if s == "" {
		return allowEmpty
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FacetEntry is the current address and version of a facet cut into the
// diamond.
type FacetEntry struct {
	Address diamond.Address `json:"Address"`
	Version string          `json:"Version"`
}

// Validate checks the entry against the diamond file's format.
func (e FacetEntry) Validate() error {
	if !e.Address.Valid() || e.Address.IsZero() {
		return fmt.Errorf("ledger: facet address %q: %w", e.Address, diamond.ErrInvalidAddress)
	}
	if e.Version == "" {
		return ErrVersionTagMissing
	}
	return nil
}

// FundRecord is the latest transfer of a token to the diamond.
type FundRecord struct {
	SentAmount   string `json:"SentAmount"`
	BalanceAfter string `json:"BalanceAfter"`
	Version      string `json:"Version"`
	TxHash       string `json:"TxHash"`
}

// Validate requires non-negative base-10 amounts.
func (r FundRecord) Validate() error {
	if !isDecimal(r.SentAmount, false) {
		return fmt.Errorf("ledger: sent amount %q: %w", r.SentAmount, ErrInvalidRecord)
	}
	if !isDecimal(r.BalanceAfter, false) {
		return fmt.Errorf("ledger: balance %q: %w", r.BalanceAfter, ErrInvalidRecord)
	}
	return nil
}

// NewFundRecord renders amounts in base-10.
func NewFundRecord(sent, balanceAfter *big.Int, version, txHash string) FundRecord {
	return FundRecord{
		SentAmount:   sent.String(),
		BalanceAfter: balanceAfter.String(),
		Version:      version,
		TxHash:       txHash,
	}
}

// DiamondState is the content of a diamond file.
type DiamondState struct {
	Facets      map[string]FacetEntry `json:"Facets"`
	InitialFund map[string]FundRecord `json:"InitialFund"`
}

type diamondFile struct {
	Diamond *DiamondState `json:"Diamond,omitempty"`
}

// details is name -> network -> environment -> version -> records.
type details map[string]map[string]map[Environment]map[string][]DeploymentRecord

func (d details) partition(name string, lctx Context) map[string][]DeploymentRecord {
	byNet, ok := d[name]
	if !ok {
		return nil
	}
	byEnv, ok := byNet[lctx.Network]
	if !ok {
		return nil
	}
	return byEnv[lctx.Environment]
}

func (d details) append(name string, lctx Context, version string, rec DeploymentRecord) {
	if d[name] == nil {
		d[name] = make(map[string]map[Environment]map[string][]DeploymentRecord)
	}
	if d[name][lctx.Network] == nil {
		d[name][lctx.Network] = make(map[Environment]map[string][]DeploymentRecord)
	}
	if d[name][lctx.Network][lctx.Environment] == nil {
		d[name][lctx.Network][lctx.Environment] = make(map[string][]DeploymentRecord)
	}
	byVersion := d[name][lctx.Network][lctx.Environment]
	byVersion[version] = append(byVersion[version], rec)
}

func cloneHistory(in map[string][]DeploymentRecord) map[string][]DeploymentRecord {
	out := make(map[string][]DeploymentRecord, len(in))
	for v, recs := range in {
		out[v] = append([]DeploymentRecord(nil), recs...)
	}
	return out
}

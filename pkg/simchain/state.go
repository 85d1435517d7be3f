package simchain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// state is the persisted form of a chain. Receipts are not kept: a handle
// never outlives the process that submitted it.
type state struct {
	Head      uint64                                           `json:"head"`
	Nonce     uint64                                           `json:"nonce"`
	Contracts map[diamond.Address]contractState                `json:"contracts"`
	Diamonds  map[diamond.Address]diamondState                 `json:"diamonds"`
	Balances  map[diamond.Address]map[diamond.Address]*big.Int `json:"balances"`
}

type contractState struct {
	Name string `json:"name"`
	Code []byte `json:"code,omitempty"`
}

type diamondState struct {
	Owner diamond.Address                      `json:"owner"`
	Table map[diamond.Selector]diamond.Address `json:"table"`
}

// Save writes the chain to path, replacing it atomically.
func (c *Chain) Save(path string) error {
	c.mu.Lock()
	st := state{
		Head:      c.head,
		Nonce:     c.nonce,
		Contracts: make(map[diamond.Address]contractState, len(c.contracts)),
		Diamonds:  make(map[diamond.Address]diamondState, len(c.diamonds)),
		Balances:  c.balances,
	}
	for a, ct := range c.contracts {
		st.Contracts[a] = contractState{Name: ct.name, Code: ct.code}
	}
	for a, d := range c.diamonds {
		st.Diamonds[a] = diamondState{Owner: d.owner, Table: d.table}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("simchain: encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("simchain: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chain-*.json")
	if err != nil {
		return fmt.Errorf("simchain: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("simchain: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("simchain: write state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load restores a chain saved at path. A missing file yields an empty chain.
func Load(path string, opts ...Option) (*Chain, error) {
	c := New(opts...)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("simchain: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("simchain: decode %s: %w", path, err)
	}

	c.head, c.nonce = st.Head, st.Nonce
	for a, ct := range st.Contracts {
		c.contracts[a.Lower()] = &contract{name: ct.Name, code: ct.Code}
	}
	for a, d := range st.Diamonds {
		nd := newDiamond(d.Owner)
		for s, f := range d.Table {
			nd.table[s] = f
		}
		c.diamonds[a.Lower()] = nd
	}
	for token, holders := range st.Balances {
		for holder, amount := range holders {
			if amount != nil {
				c.balanceLocked(token, holder).Set(amount)
			}
		}
	}
	return c, nil
}

// Package diamond holds the data model shared by the planner, the executor and
// the ledger: addresses, selectors, facets and cut actions.
package diamond

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ZeroAddress is the "no facet" handle. Remove actions carry it.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

var (
	ErrInvalidAddress  = errors.New("diamond: invalid address")
	ErrInvalidSelector = errors.New("diamond: invalid selector")
	ErrInvalidCut      = errors.New("diamond: invalid cut action")
)

// Address is a 20-byte target-system handle rendered as 0x-prefixed hex.
// Case is not significant; use Equal to compare.
type Address string

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	a := Address(strings.TrimSpace(s))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// AddressFromBytes renders the last 20 bytes of b as an Address.
func AddressFromBytes(b []byte) Address {
	if len(b) > 20 {
		b = b[len(b)-20:]
	}
	var buf [20]byte
	copy(buf[20-len(b):], b)
	return Address("0x" + hex.EncodeToString(buf[:]))
}

// Valid reports whether a is 0x followed by exactly 40 hex digits.
func (a Address) Valid() bool {
	s := string(a)
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// IsZero reports whether a is empty or the zero address.
func (a Address) IsZero() bool {
	return a == "" || a.Equal(ZeroAddress)
}

// Equal compares two addresses case-insensitively.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// Lower returns the canonical lower-case form.
func (a Address) Lower() Address {
	return Address(strings.ToLower(string(a)))
}

func (a Address) String() string { return string(a) }

// Selector identifies one addressable entry point of a facet.
type Selector [4]byte

// ParseSelector parses 0x-prefixed or bare 8 hex digits.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 8 {
		return sel, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return sel, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	copy(sel[:], b)
	return sel, nil
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText renders the selector as 0x-prefixed hex.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the form produced by MarshalText.
func (s *Selector) UnmarshalText(b []byte) error {
	parsed, err := ParseSelector(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SortSelectors orders selectors by their byte value, in place.
func SortSelectors(sels []Selector) {
	sort.Slice(sels, func(i, j int) bool {
		return string(sels[i][:]) < string(sels[j][:])
	})
}

// Action is the cut operation applied to a group of selectors. The numeric
// values are the wire values of the diamondCut call.
type Action uint8

const (
	ActionAdd     Action = 0
	ActionReplace Action = 1
	ActionRemove  Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "Add"
	case ActionReplace:
		return "Replace"
	case ActionRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Facet is a deployed module. A facet never changes after deployment; new
// code means a new address.
type Facet struct {
	Name          string
	Address       Address
	Selectors     []Selector
	SourceVersion string
}

// FacetCut is one cut action. Facet carries the module name for the ledger
// and is not part of the submitted payload.
type FacetCut struct {
	Action       Action     `json:"action"`
	FacetAddress Address    `json:"facetAddress"`
	Selectors    []Selector `json:"functionSelectors"`
	Facet        string     `json:"facet,omitempty"`
}

// Validate checks the per-action invariants.
func (c FacetCut) Validate() error {
	switch c.Action {
	case ActionAdd, ActionReplace:
		if !c.FacetAddress.Valid() || c.FacetAddress.IsZero() {
			return fmt.Errorf("%w: %s requires a facet address, got %q", ErrInvalidCut, c.Action, c.FacetAddress)
		}
	case ActionRemove:
		if !c.FacetAddress.IsZero() {
			return fmt.Errorf("%w: Remove must target the zero address, got %s", ErrInvalidCut, c.FacetAddress)
		}
	default:
		return fmt.Errorf("%w: unknown action %d", ErrInvalidCut, uint8(c.Action))
	}
	seen := make(map[Selector]struct{}, len(c.Selectors))
	for _, s := range c.Selectors {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: selector %s repeated in %s", ErrInvalidCut, s, c.Action)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// ValidateBatch checks every action and that no selector appears in more
// than one action of the batch.
func ValidateBatch(cuts []FacetCut) error {
	owner := make(map[Selector]int)
	for i, c := range cuts {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		for _, s := range c.Selectors {
			if j, dup := owner[s]; dup {
				return fmt.Errorf("%w: selector %s in actions %d and %d", ErrInvalidCut, s, j, i)
			}
			owner[s] = i
		}
	}
	return nil
}

// CountSelectors returns the number of selectors per action kind.
func CountSelectors(cuts []FacetCut) (adds, replaces, removes int) {
	for _, c := range cuts {
		switch c.Action {
		case ActionAdd:
			adds += len(c.Selectors)
		case ActionReplace:
			replaces += len(c.Selectors)
		case ActionRemove:
			removes += len(c.Selectors)
		}
	}
	return adds, replaces, removes
}

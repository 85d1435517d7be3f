package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidABI is returned when an interface description cannot be parsed.
var ErrInvalidABI = errors.New("selector: invalid abi")

// Param is one input parameter of a function. Tuple parameters carry their
// members in Components.
type Param struct {
	Name       string  `json:"name,omitempty"`
	Type       string  `json:"type"`
	Components []Param `json:"components,omitempty"`
}

// Function is one callable entry point of a module.
type Function struct {
	Name   string  `json:"name"`
	Inputs []Param `json:"inputs"`
}

// Interface is the structural description of a module's operations.
type Interface struct {
	Functions []Function
}

type abiEntry struct {
	Type   string  `json:"type"`
	Name   string  `json:"name"`
	Inputs []Param `json:"inputs"`
}

// ParseABI reads a JSON ABI array and keeps its function entries. Events,
// errors, constructors and fallbacks are ignored.
func ParseABI(data []byte) (Interface, error) {
	var entries []abiEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Interface{}, fmt.Errorf("%w: %v", ErrInvalidABI, err)
	}
	var iface Interface
	for i, e := range entries {
		// An entry without a type is a function.
		if e.Type != "" && e.Type != "function" {
			continue
		}
		if e.Name == "" {
			return Interface{}, fmt.Errorf("%w: function entry %d has no name", ErrInvalidABI, i)
		}
		iface.Functions = append(iface.Functions, Function{Name: e.Name, Inputs: e.Inputs})
	}
	return iface, nil
}

// Signature renders fn in canonical form, e.g. "transfer(address,uint256)".
func Signature(fn Function) string {
	parts := make([]string, len(fn.Inputs))
	for i, p := range fn.Inputs {
		parts[i] = canonicalParam(p)
	}
	return fn.Name + "(" + strings.Join(parts, ",") + ")"
}

func canonicalParam(p Param) string {
	if strings.HasPrefix(p.Type, "tuple") {
		members := make([]string, len(p.Components))
		for i, c := range p.Components {
			members[i] = canonicalParam(c)
		}
		return "(" + strings.Join(members, ",") + ")" + strings.TrimPrefix(p.Type, "tuple")
	}
	return canonicalType(p.Type)
}

// canonicalType expands the integer aliases, keeping any array suffix.
func canonicalType(t string) string {
	base, suffix := t, ""
	if i := strings.IndexByte(t, '['); i >= 0 {
		base, suffix = t[:i], t[i:]
	}
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	}
	return base + suffix
}

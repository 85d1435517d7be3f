// Package selector derives the addressable entry points of a module from its
// interface description.
//
// A selector is the first four bytes of the Keccak-256 hash of the canonical
// function signature. Catalogs are computed from a parsed description only;
// nothing here talks to a live system.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// DefaultInitializer is the entry point excluded from every catalog. It is
// invoked once through the cut initializer and never bound in the table.
const DefaultInitializer = "init(bytes)"

// ErrInvalidSignature is returned for signatures that cannot be canonicalized.
var ErrInvalidSignature = errors.New("selector: invalid signature")

type options struct {
	initializer string
}

// Option customizes Catalog.
type Option func(*options)

// WithInitializer overrides the excluded initializer signature. An empty
// signature excludes nothing.
func WithInitializer(signature string) Option {
	return func(o *options) { o.initializer = signature }
}

// Catalog returns the selectors of every function in iface except the
// initializer. The result has set semantics; order is not significant.
func Catalog(iface Interface, opts ...Option) []diamond.Selector {
	o := options{initializer: DefaultInitializer}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[diamond.Selector]struct{}, len(iface.Functions))
	out := make([]diamond.Selector, 0, len(iface.Functions))
	for _, fn := range iface.Functions {
		sig := Signature(fn)
		if o.initializer != "" && sig == o.initializer {
			continue
		}
		s := hash(sig)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Of computes the selector of a human-readable signature such as
// "transfer(address to, uint amount)".
func Of(signature string) (diamond.Selector, error) {
	canonical, err := Canonicalize(signature)
	if err != nil {
		return diamond.Selector{}, err
	}
	return hash(canonical), nil
}

// MustOf is Of for package-level constants. It panics on a malformed signature.
func MustOf(signature string) diamond.Selector {
	s, err := Of(signature)
	if err != nil {
		panic(err)
	}
	return s
}

// Subtract removes the selectors of the named signatures from selectors.
func Subtract(selectors []diamond.Selector, signatures []string) ([]diamond.Selector, error) {
	drop := make(map[diamond.Selector]struct{}, len(signatures))
	for _, sig := range signatures {
		s, err := Of(sig)
		if err != nil {
			return nil, err
		}
		drop[s] = struct{}{}
	}
	out := make([]diamond.Selector, 0, len(selectors))
	for _, s := range selectors {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Canonicalize normalizes a signature: drops the "function" keyword,
// parameter names, data locations and modifiers, and expands integer aliases.
func Canonicalize(signature string) (string, error) {
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(sig, "function ")
	open := strings.IndexByte(sig, '(')
	if open <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}
	name := strings.TrimSpace(sig[:open])
	if strings.ContainsAny(name, " \t,()") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}
	closeIdx, err := matchParen(sig, open)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}
	params, err := canonicalList(sig[open+1 : closeIdx])
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidSignature, signature, err)
	}
	return name + "(" + params + ")", nil
}

func canonicalList(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	parts, err := splitTopLevel(s)
	if err != nil {
		return "", err
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		c, err := canonicalParamText(strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return strings.Join(out, ","), nil
}

func canonicalParamText(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty parameter")
	}
	p = strings.TrimPrefix(p, "tuple")
	if strings.HasPrefix(p, "(") {
		end, err := matchParen(p, 0)
		if err != nil {
			return "", err
		}
		inner, err := canonicalList(p[1:end])
		if err != nil {
			return "", err
		}
		rest := strings.TrimSpace(p[end+1:])
		suffix := ""
		for strings.HasPrefix(rest, "[") {
			j := strings.IndexByte(rest, ']')
			if j < 0 {
				return "", errors.New("unterminated array suffix")
			}
			suffix += rest[:j+1]
			rest = rest[j+1:]
		}
		return "(" + inner + ")" + suffix, nil
	}
	// Type is the first token; names and data locations follow it.
	return canonicalType(strings.Fields(p)[0]), nil
}

func matchParen(s string, open int) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.New("unbalanced parentheses")
}

func splitTopLevel(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced parentheses")
	}
	return append(parts, s[start:]), nil
}

func hash(canonical string) diamond.Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(canonical))
	var s diamond.Selector
	copy(s[:], h.Sum(nil)[:4])
	return s
}

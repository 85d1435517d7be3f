// Package artifact reads compiled modules from a hardhat artifacts tree and
// the source files they were built from.
package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

// ErrNotFound is returned for modules with no artifact.
var ErrNotFound = errors.New("artifact: not found")

// Artifact is a compiled module.
type Artifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Code decodes the creation bytecode.
func (a *Artifact) Code() ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(a.Bytecode, "0x"))
}

// Interface parses the ABI.
func (a *Artifact) Interface() (selector.Interface, error) {
	return selector.ParseABI(a.ABI)
}

// Selectors is the selector catalog of the module.
func (a *Artifact) Selectors(opts ...selector.Option) ([]diamond.Selector, error) {
	iface, err := a.Interface()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.ContractName, err)
	}
	return selector.Catalog(iface, opts...), nil
}

// Reader locates artifacts under Dir and sources under Root.
type Reader struct {
	// Root is the project root; source names are relative to it.
	Root string
	// Dir is the artifacts directory, usually Root/artifacts.
	Dir string
}

// NewReader uses root/artifacts.
func NewReader(root string) *Reader {
	return &Reader{Root: root, Dir: filepath.Join(root, "artifacts")}
}

// Read finds the artifact of the named module. Debug files are skipped.
func (r *Reader) Read(name string) (*Artifact, error) {
	want := name + ".json"
	var found string
	err := filepath.WalkDir(r.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "build-info" {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact: scan %s: %w", r.Dir, err)
	}
	if found == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	raw, err := os.ReadFile(found)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("artifact: decode %s: %w", found, err)
	}
	if a.ContractName == "" {
		a.ContractName = name
	}
	return &a, nil
}

// Source returns the source text of a.
func (r *Reader) Source(a *Artifact) (string, error) {
	raw, err := os.ReadFile(filepath.Join(r.Root, filepath.FromSlash(a.SourceName)))
	if err != nil {
		return "", fmt.Errorf("artifact: source of %s: %w", a.ContractName, err)
	}
	return string(raw), nil
}

// Version resolves the version tag of a from its source header.
func (r *Reader) Version(a *Artifact) (string, error) {
	src, err := r.Source(a)
	if err != nil {
		return "", err
	}
	v, err := ledger.ResolveVersion(src)
	if err != nil {
		return "", fmt.Errorf("%s (%s): %w", a.ContractName, a.SourceName, err)
	}
	return v, nil
}

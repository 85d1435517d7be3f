package ledger

import (
	"path/filepath"
	"sync"
)

// DiamondStore holds the facets cut into the diamond and the funds sent to
// it. Both sections are snapshots: a later write for a name replaces the
// earlier one.
type DiamondStore struct {
	mu  sync.Mutex
	dir string
}

// Path returns the diamond file of lctx.
func (s *DiamondStore) Path(lctx Context) string {
	return filepath.Join(s.dir, lctx.DiamondFile())
}

func (s *DiamondStore) update(lctx Context, fn func(*DiamondState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f diamondFile
	if _, err := readJSON(s.Path(lctx), "diamond", &f); err != nil {
		return err
	}
	if f.Diamond == nil {
		f.Diamond = &DiamondState{}
	}
	if f.Diamond.Facets == nil {
		f.Diamond.Facets = make(map[string]FacetEntry)
	}
	if f.Diamond.InitialFund == nil {
		f.Diamond.InitialFund = make(map[string]FundRecord)
	}
	fn(f.Diamond)
	return writeJSON(s.Path(lctx), "diamond", f, "   ")
}

// Load returns the diamond state of lctx. A missing file yields empty maps.
func (s *DiamondStore) Load(lctx Context) (DiamondState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f diamondFile
	if _, err := readJSON(s.Path(lctx), "diamond", &f); err != nil {
		return DiamondState{}, err
	}
	out := DiamondState{
		Facets:      make(map[string]FacetEntry),
		InitialFund: make(map[string]FundRecord),
	}
	if f.Diamond != nil {
		for k, v := range f.Diamond.Facets {
			out.Facets[k] = v
		}
		for k, v := range f.Diamond.InitialFund {
			out.InitialFund[k] = v
		}
	}
	return out, nil
}

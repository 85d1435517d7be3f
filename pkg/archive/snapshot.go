package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/martin-labs/diamondctl/pkg/ledger"
)

// Manifest lists the blobs of one snapshot.
type Manifest struct {
	Network     string            `json:"network"`
	Environment string            `json:"environment"`
	CreatedAt   time.Time         `json:"created_at"`
	Files       map[string]string `json:"files"`
}

// Snapshot stores every existing ledger file of lctx and then a manifest
// naming them. It returns the manifest and its hash.
func Snapshot(ctx context.Context, s Store, l *ledger.Ledger, lctx ledger.Context, now time.Time) (Manifest, string, error) {
	m := Manifest{
		Network:     lctx.Network,
		Environment: string(lctx.Environment),
		CreatedAt:   now.UTC(),
		Files:       make(map[string]string),
	}
	files, err := l.Export(lctx)
	if err != nil {
		return Manifest{}, "", err
	}
	for name, data := range files {
		h, err := s.Put(ctx, data)
		if err != nil {
			return Manifest{}, "", err
		}
		m.Files[name] = h
	}
	if len(m.Files) == 0 {
		return Manifest{}, "", fmt.Errorf("archive: no ledger files for %s", lctx)
	}

	raw, err := ledger.Canonical(m)
	if err != nil {
		return Manifest{}, "", err
	}
	h, err := s.Put(ctx, raw)
	if err != nil {
		return Manifest{}, "", err
	}
	slog.Default().InfoContext(ctx, "ledger archived",
		"component", "archive",
		"ledger", lctx.String(),
		"manifest", h,
		"files", len(m.Files),
	)
	return m, h, nil
}

// LoadManifest fetches and decodes a manifest.
func LoadManifest(ctx context.Context, s Store, hash string) (Manifest, error) {
	raw, err := s.Get(ctx, hash)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("archive: decode manifest: %w", err)
	}
	return m, nil
}

package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/ledger"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)

	again, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h, again)

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	ok, err := s.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	missing := "sha256:" + "00000000000000000000000000000000000000000000000000000000000000ff"
	_, err = s.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "md5:abc")
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	lctx := ledger.Context{Network: "sepolia", Environment: ledger.Staging}
	l := ledger.New(t.TempDir())

	s, err := NewStore(ctx, Config{}, l.Dir())
	require.NoError(t, err)

	_, _, err = Snapshot(ctx, s, l, lctx, time.Now())
	assert.Error(t, err, "nothing to archive yet")

	require.NoError(t, l.RecordDeployment(ctx, lctx, "MToken", "1.0.0", ledger.DeploymentRecord{
		Address:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Timestamp: "2024-03-01 12:00:00",
	}))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m, h, err := Snapshot(ctx, s, l, lctx, at)
	require.NoError(t, err)
	assert.Len(t, m.Files, 2)
	assert.Contains(t, m.Files, "sepolia_staging_addresses.json")
	assert.Contains(t, m.Files, ledger.DetailsFile)

	loaded, err := LoadManifest(ctx, s, h)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	_, h2, err := Snapshot(ctx, s, l, lctx, at)
	require.NoError(t, err)
	assert.Equal(t, h, h2, "unchanged ledger gives the same manifest")

	require.NoError(t, os.WriteFile(filepath.Join(l.Dir(), ledger.DetailsFile), []byte(`{"MToken": 1}`), 0o644))
	_, _, err = Snapshot(ctx, s, l, lctx, at)
	assert.ErrorIs(t, err, ledger.ErrLedgerCorrupt, "a corrupt ledger is never archived")
}

func TestNewStore_Types(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: "ftp"}, t.TempDir())
	assert.Error(t, err)
	_, err = NewStore(context.Background(), Config{Type: "s3"}, t.TempDir())
	assert.Error(t, err, "bucket is required")
}

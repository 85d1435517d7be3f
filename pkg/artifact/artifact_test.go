package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func project(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "contracts/facets/DepositFacet.sol"),
		"// SPDX-License-Identifier: MIT\n/// @title Deposit\n/// @custom:version 1.0.0\ncontract DepositFacet {}\n")
	writeFile(t, filepath.Join(root, "artifacts/contracts/facets/DepositFacet.sol/DepositFacet.json"), `{
		"_format": "hh-sol-artifact-1",
		"contractName": "DepositFacet",
		"sourceName": "contracts/facets/DepositFacet.sol",
		"abi": [
			{"type": "function", "name": "deposit", "inputs": [{"name": "token", "type": "address"}, {"name": "amount", "type": "uint256"}]},
			{"type": "function", "name": "init", "inputs": [{"name": "data", "type": "bytes"}]},
			{"type": "event", "name": "Deposited", "inputs": []}
		],
		"bytecode": "0x6080"
	}`)
	writeFile(t, filepath.Join(root, "artifacts/contracts/facets/DepositFacet.sol/DepositFacet.dbg.json"), `{}`)
	writeFile(t, filepath.Join(root, "artifacts/contracts/NoVersion.sol/NoVersion.json"),
		`{"contractName": "NoVersion", "sourceName": "contracts/NoVersion.sol", "abi": [], "bytecode": "0x"}`)
	writeFile(t, filepath.Join(root, "contracts/NoVersion.sol"), "contract NoVersion {}\n")
	return root
}

func TestReader(t *testing.T) {
	r := NewReader(project(t))

	a, err := r.Read("DepositFacet")
	require.NoError(t, err)
	assert.Equal(t, "contracts/facets/DepositFacet.sol", a.SourceName)

	sels, err := a.Selectors()
	require.NoError(t, err)
	assert.Equal(t, []string{selector.MustOf("deposit(address,uint256)").String()}, []string{sels[0].String()})
	assert.Len(t, sels, 1, "the initializer is excluded")

	code, err := a.Code()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80}, code)

	v, err := r.Version(a)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestReader_Errors(t *testing.T) {
	r := NewReader(project(t))

	_, err := r.Read("BorrowFacet")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := r.Read("NoVersion")
	require.NoError(t, err)
	_, err = r.Version(a)
	assert.ErrorIs(t, err, ledger.ErrVersionTagMissing)

	_, err = NewReader(t.TempDir()).Read("DepositFacet")
	assert.ErrorIs(t, err, ErrNotFound)
}

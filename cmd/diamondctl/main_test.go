package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cutABI = `[{"type":"function","name":"diamondCut","inputs":[
	{"name":"cut","type":"tuple[]","components":[{"type":"address"},{"type":"uint8"},{"type":"bytes4[]"}]},
	{"name":"init","type":"address"},{"name":"data","type":"bytes"}]}]`

var projectModules = map[string]string{
	"Diamond":               `[]`,
	"DiamondInit":           `[{"type":"function","name":"init","inputs":[{"type":"bytes"}]}]`,
	"DiamondCutFacet":       cutABI,
	"DiamondLoupeFacet":     `[{"type":"function","name":"facetAddress","inputs":[{"type":"bytes4"}]},{"type":"function","name":"facets","inputs":[]}]`,
	"DiamondOwnershipFacet": `[{"type":"function","name":"owner","inputs":[]}]`,
	"MToken":                `[{"type":"function","name":"transfer","inputs":[{"type":"address"},{"type":"uint256"}]}]`,
	"BorrowFacet":           `[{"type":"function","name":"borrow","inputs":[{"type":"uint256"}]},{"type":"function","name":"debt","inputs":[{"type":"address"}]}]`,
}

const projectManifest = `
networks:
  sepolia:
    live: true
base: [DiamondInit, DiamondCutFacet, DiamondLoupeFacet, DiamondOwnershipFacet, MToken]
facets: [BorrowFacet]
funds:
  - token: MToken
    amount: "500"
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, abi := range projectModules {
		src := filepath.Join("contracts", name+".sol")
		writeFile(t, filepath.Join(root, src), "/// @custom:version 2.0.0\ncontract "+name+" {}\n")
		writeFile(t, filepath.Join(root, "artifacts", src, name+".json"), fmt.Sprintf(
			`{"contractName": %q, "sourceName": %q, "abi": %s, "bytecode": "0x6080"}`,
			name, filepath.ToSlash(src), abi))
	}
	writeFile(t, filepath.Join(root, "diamond.yaml"), projectManifest)
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setProject(t *testing.T, root, network string) {
	t.Setenv("DIAMOND_PROJECT", root)
	t.Setenv("DIAMOND_NETWORK", network)
	t.Setenv("LEDGER_DIR", filepath.Join(root, "deployments"))
	t.Setenv("LOG_LEVEL", "ERROR")
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"diamondctl"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "deploy")

	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, _ = run()
	assert.Equal(t, 2, code)

	code, out, _ = run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "diamondctl dev")

	code, _, _ = run("ledger")
	assert.Equal(t, 2, code)
	code, _, _ = run("remove")
	assert.Equal(t, 2, code, "--sig is required")
}

func TestSelectors(t *testing.T) {
	code, out, _ := run("selectors", "--sig", "transfer(address,uint256)", "--sig", "facets()")
	require.Equal(t, 0, code)
	assert.Equal(t, "0xa9059cbb\n0x7a0ed627\n", out)

	root := writeProject(t)
	code, out, _ = run("selectors", "--root", root, "--module", "BorrowFacet", "--exclude", "debt(address)", "--json")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `["0xc5ebeaec"]`, out)

	code, out, _ = run("selectors", "--root", root, "--module", "DiamondInit")
	require.Equal(t, 0, code)
	assert.Empty(t, out, "the initializer is excluded")

	code, _, _ = run("selectors")
	assert.Equal(t, 2, code)
	code, _, _ = run("selectors", "--root", root, "--module", "Missing")
	assert.Equal(t, 1, code)
}

func TestDeployPlanRemoveFund(t *testing.T) {
	root := writeProject(t)
	setProject(t, root, "local")

	code, out, errOut := run("deploy")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Diamond deployed at")
	assert.FileExists(t, filepath.Join(root, ".diamondctl", "local.chain.json"))

	code, out, errOut = run("plan")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "No facets to add, replace or remove.")

	code, _, errOut = run("remove", "--sig", "debt(address)")
	require.Equal(t, 0, code, errOut)

	code, out, errOut = run("plan", "--json")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"action": 0`, "the removed selector is added back")

	code, _, errOut = run("plan", "--apply")
	require.Equal(t, 0, code, errOut)

	code, out, errOut = run("fund", "--faucet")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "MToken")

	code, out, errOut = run("ledger", "show")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "BorrowFacet")
	assert.Contains(t, out, "sent 500, balance 500")

	code, out, errOut = run("ledger", "versions", "--module", "BorrowFacet")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "2.0.0")
	assert.Contains(t, out, "digest=")

	code, out, errOut = run("ledger", "archive")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "sha256:")
	assert.DirExists(t, filepath.Join(root, "deployments", "_archive"))
	hash := strings.TrimSpace(out[strings.Index(out, "sha256:"):])

	code, out, errOut = run("ledger", "archive", "--show", hash)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "deployment_details.json")
	assert.Contains(t, out, "local (staging)")

	code, out, errOut = run("replace", "--facet", "BorrowFacet", "--deploy")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Replaced BorrowFacet")

	code, _, _ = run("replace", "--facet", "BorrowFacet")
	assert.Equal(t, 1, code, "selectors already point at the recorded facet")

	code, _, errOut = run("ledger", "verify")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "LEDGER_BACKEND")
}

func TestLedgerVerify_SQLiteBackend(t *testing.T) {
	root := writeProject(t)
	setProject(t, root, "local")
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(root, "history.db"))

	code, _, errOut := run("deploy")
	require.Equal(t, 0, code, errOut)

	code, out, errOut := run("ledger", "verify")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "BorrowFacet")
	assert.Contains(t, out, "intact (7 module(s))")

	code, out, errOut = run("ledger", "verify", "--module", "MToken")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "intact (1 module(s))")
}

func TestDeploy_LiveNetworkHasNoChannel(t *testing.T) {
	root := writeProject(t)
	setProject(t, root, "sepolia")

	code, _, errOut := run("deploy")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "no execution channel")
}

func TestDeploy_NoManifest(t *testing.T) {
	setProject(t, t.TempDir(), "local")
	code, _, errOut := run("deploy")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "diamond.yaml")

	code, _, _ = run("ledger", "versions", "--module", "BorrowFacet")
	assert.Equal(t, 1, code, "an empty ledger has no history")
}

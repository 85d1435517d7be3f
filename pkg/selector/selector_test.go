package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

const loupeABI = `[
  {"type":"function","name":"facetAddress","inputs":[{"name":"_functionSelector","type":"bytes4"}]},
  {"type":"function","name":"facetAddresses","inputs":[]},
  {"type":"function","name":"facetFunctionSelectors","inputs":[{"name":"_facet","type":"address"}]},
  {"type":"function","name":"facets","inputs":[]},
  {"type":"function","name":"supportsInterface","inputs":[{"name":"_interfaceId","type":"bytes4"}]},
  {"type":"event","name":"Ignored","inputs":[]},
  {"type":"function","name":"init","inputs":[{"name":"data","type":"bytes"}]}
]`

func TestOf_KnownSelectors(t *testing.T) {
	cases := map[string]string{
		"transfer(address,uint256)":                         "0xa9059cbb",
		"function transfer(address to, uint amount)":        "0xa9059cbb",
		"balanceOf(address)":                                "0x70a08231",
		"facetAddress(bytes4)":                              "0xcdffacc6",
		"facets()":                                          "0x7a0ed627",
		"owner()":                                           "0x8da5cb5b",
		"transferOwnership(address)":                        "0xf2fde38b",
		"supportsInterface(bytes4)":                         "0x01ffc9a7",
		"diamondCut((address,uint8,bytes4[])[],address,bytes)": "0x1f931c1c",
		"diamondCut(tuple(address facetAddress, uint8 action, bytes4[] functionSelectors)[] _cut, address _init, bytes calldata _calldata)": "0x1f931c1c",
	}
	for sig, want := range cases {
		t.Run(sig, func(t *testing.T) {
			got, err := Of(sig)
			require.NoError(t, err)
			assert.Equal(t, want, got.String())
		})
	}
}

func TestOf_Invalid(t *testing.T) {
	for _, sig := range []string{"", "noparens", "(address)", "f(address", "f(,)"} {
		_, err := Of(sig)
		assert.ErrorIs(t, err, ErrInvalidSignature, sig)
	}
}

func TestCatalog_ExcludesInitializer(t *testing.T) {
	iface, err := ParseABI([]byte(loupeABI))
	require.NoError(t, err)
	require.Len(t, iface.Functions, 6)

	sels := Catalog(iface)
	assert.Len(t, sels, 5)
	assert.NotContains(t, sels, MustOf("init(bytes)"))
	assert.Contains(t, sels, MustOf("facetAddress(bytes4)"))
}

func TestCatalog_CustomInitializer(t *testing.T) {
	iface, err := ParseABI([]byte(loupeABI))
	require.NoError(t, err)

	all := Catalog(iface, WithInitializer(""))
	assert.Len(t, all, 6)

	noFacets := Catalog(iface, WithInitializer("facets()"))
	assert.Len(t, noFacets, 5)
	assert.Contains(t, noFacets, MustOf("init(bytes)"))
}

func TestCatalog_Deterministic(t *testing.T) {
	iface, err := ParseABI([]byte(loupeABI))
	require.NoError(t, err)

	a := Catalog(iface)
	b := Catalog(iface)
	diamond.SortSelectors(a)
	diamond.SortSelectors(b)
	assert.Equal(t, a, b)
}

func TestSignature_Tuples(t *testing.T) {
	fn := Function{
		Name: "init",
		Inputs: []Param{{
			Type: "tuple",
			Components: []Param{
				{Name: "mTokenAddress", Type: "address"},
				{Name: "allowedTokens", Type: "tuple[]", Components: []Param{
					{Type: "uint"}, {Type: "bool"}, {Type: "address"},
				}},
			},
		}},
	}
	assert.Equal(t, "init((address,(uint256,bool,address)[]))", Signature(fn))
}

func TestSubtract(t *testing.T) {
	iface, err := ParseABI([]byte(loupeABI))
	require.NoError(t, err)

	sels, err := Subtract(Catalog(iface), []string{"supportsInterface(bytes4)", "facets()"})
	require.NoError(t, err)
	assert.Len(t, sels, 3)
	assert.NotContains(t, sels, MustOf("facets()"))

	_, err = Subtract(sels, []string{"broken("})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseABI_Invalid(t *testing.T) {
	_, err := ParseABI([]byte(`{"not":"an array"}`))
	assert.ErrorIs(t, err, ErrInvalidABI)

	_, err = ParseABI([]byte(`[{"type":"function","inputs":[]}]`))
	assert.ErrorIs(t, err, ErrInvalidABI)
}

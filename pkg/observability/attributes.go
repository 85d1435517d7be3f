package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

var (
	AttrOperation   = attribute.Key("diamondctl.operation")
	AttrNetwork     = attribute.Key("diamond.network")
	AttrEnvironment = attribute.Key("diamond.environment")
	AttrDiamond     = attribute.Key("diamond.address")
	AttrRunID       = attribute.Key("diamond.run_id")
	AttrModule      = attribute.Key("diamond.module")
	AttrActions     = attribute.Key("diamond.cut.actions")
	AttrAdds        = attribute.Key("diamond.cut.adds")
	AttrReplaces    = attribute.Key("diamond.cut.replaces")
	AttrRemoves     = attribute.Key("diamond.cut.removes")
)

// RunAttributes identify one reconciliation pass.
func RunAttributes(network, environment string, target diamond.Address, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrNetwork.String(network),
		AttrEnvironment.String(environment),
		AttrDiamond.String(string(target)),
		AttrRunID.String(runID),
	}
}

// CutAttributes summarize a batch.
func CutAttributes(cuts []diamond.FacetCut) []attribute.KeyValue {
	adds, replaces, removes := diamond.CountSelectors(cuts)
	return []attribute.KeyValue{
		AttrActions.Int(len(cuts)),
		AttrAdds.Int(adds),
		AttrReplaces.Int(replaces),
		AttrRemoves.Int(removes),
	}
}

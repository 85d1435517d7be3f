// Package channel defines the execution channel through which every
// state-changing operation reaches the target system.
//
// The channel is opaque to the core: anything that can accept an intent and
// later report whether it succeeded satisfies it.
package channel

import (
	"context"
	"math/big"
	"time"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// LiveConfirmations is the confirmation depth used on live networks. Lower
// values are unsafe on networks with frequent reorgs.
const LiveConfirmations = 4

// DefaultConfirmations returns the confirmation depth for a network class.
func DefaultConfirmations(live bool) int {
	if live {
		return LiveConfirmations
	}
	return 1
}

// Intent is a state-changing operation submitted as one unit.
type Intent interface {
	Kind() string
}

// CutIntent applies a whole cut batch to a diamond, optionally followed by an
// initializer call, as one atomic operation.
type CutIntent struct {
	Diamond  diamond.Address
	Cuts     []diamond.FacetCut
	Init     diamond.Address
	InitData []byte
}

func (CutIntent) Kind() string { return "cut" }

// DeployIntent creates a plain module.
type DeployIntent struct {
	Name            string
	Bytecode        []byte
	ConstructorArgs []byte
}

func (DeployIntent) Kind() string { return "deploy" }

// DiamondIntent creates the dispatch table itself. The cut facet is bound in
// the constructor so later cuts can be submitted.
type DiamondIntent struct {
	Owner           diamond.Address
	CutFacet        diamond.Address
	CutSelectors    []diamond.Selector
	Init            diamond.Address
	InitData        []byte
	ConstructorArgs []byte
}

func (DiamondIntent) Kind() string { return "diamond" }

// TransferIntent moves Amount units of Token to To.
type TransferIntent struct {
	Token  diamond.Address
	To     diamond.Address
	Amount *big.Int
}

func (TransferIntent) Kind() string { return "transfer" }

// Handle identifies a submitted operation.
type Handle struct {
	ID string
}

// Receipt is the terminal state of an operation.
type Receipt struct {
	ID              string
	Success         bool
	Reason          string
	ContractAddress diamond.Address
	Block           uint64
	Timestamp       time.Time
	Confirmations   int
}

// Channel submits operations and waits for their terminal state.
type Channel interface {
	Submit(ctx context.Context, intent Intent) (Handle, error)
	Await(ctx context.Context, h Handle) (Receipt, error)
}

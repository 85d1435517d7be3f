// Package simchain is an in-process target system: it deploys modules, hosts
// diamonds with an all-or-nothing cut, tracks token balances and mines a
// block per operation. It backs the "local" network and the test suites.
package simchain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// ErrUnsupportedIntent is returned by Submit for intents the chain cannot run.
var ErrUnsupportedIntent = errors.New("simchain: unsupported intent")

// DefaultDeployer is the account every operation is sent from.
const DefaultDeployer diamond.Address = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"

// InitHook runs the initializer call of a cut or a diamond constructor. A
// non-nil error reverts the whole operation.
type InitHook func(target diamond.Address, data []byte) error

type contract struct {
	name string
	code []byte
}

type op struct {
	receipt channel.Receipt
}

// Chain is safe for concurrent use. All state changes are serialized, as on
// the real target system.
type Chain struct {
	mu            sync.Mutex
	clock         func() time.Time
	head          uint64
	nonce         uint64
	sender        diamond.Address
	contracts     map[diamond.Address]*contract
	diamonds      map[diamond.Address]*Diamond
	balances      map[diamond.Address]map[diamond.Address]*big.Int
	ops           map[string]*op
	initHook      InitHook
	autoMine      bool
	confirmations int
	logger        *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the block timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) { c.clock = clock }
}

// WithInitHook installs the initializer behaviour.
func WithInitHook(h InitHook) Option {
	return func(c *Chain) { c.initHook = h }
}

// WithConfirmations sets the depth Await waits for.
func WithConfirmations(n int) Option {
	return func(c *Chain) { c.confirmations = n }
}

// WithManualMining disables the block produced on every status poll, so
// Await only returns once Mine has been called enough times.
func WithManualMining() Option {
	return func(c *Chain) { c.autoMine = false }
}

// New creates an empty chain at block 0.
func New(opts ...Option) *Chain {
	c := &Chain{
		clock:         time.Now,
		sender:        DefaultDeployer,
		contracts:     make(map[diamond.Address]*contract),
		diamonds:      make(map[diamond.Address]*Diamond),
		balances:      make(map[diamond.Address]map[diamond.Address]*big.Int),
		ops:           make(map[string]*op),
		autoMine:      true,
		confirmations: 1,
		logger:        slog.Default().With("component", "simchain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sender returns the account operations are sent from.
func (c *Chain) Sender() diamond.Address { return c.sender }

// Head returns the current block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Mine produces n empty blocks.
func (c *Chain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += uint64(n)
}

// Submit executes intent in a new block and records its receipt.
func (c *Chain) Submit(ctx context.Context, intent channel.Intent) (channel.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++
	id := c.txHash(intent.Kind())
	c.head++
	receipt := channel.Receipt{
		ID:        id,
		Success:   true,
		Block:     c.head,
		Timestamp: c.clock().UTC().Truncate(time.Second),
	}

	var err error
	switch in := intent.(type) {
	case channel.DeployIntent:
		receipt.ContractAddress = c.deploy(in.Name, in.Bytecode)
	case channel.DiamondIntent:
		receipt.ContractAddress, err = c.deployDiamond(in)
	case channel.CutIntent:
		err = c.cut(in)
	case channel.TransferIntent:
		err = c.transfer(c.sender, in)
	default:
		c.head--
		c.nonce--
		return channel.Handle{}, fmt.Errorf("%w: %s", ErrUnsupportedIntent, intent.Kind())
	}
	if err != nil {
		receipt.Success = false
		receipt.Reason = err.Error()
		receipt.ContractAddress = ""
	}

	c.ops[id] = &op{receipt: receipt}
	c.logger.DebugContext(ctx, "operation mined",
		"kind", intent.Kind(),
		"id", id,
		"block", receipt.Block,
		"success", receipt.Success,
	)
	return channel.Handle{ID: id}, nil
}

// Await waits for the configured confirmation depth.
func (c *Chain) Await(ctx context.Context, h channel.Handle) (channel.Receipt, error) {
	return channel.Confirm(ctx, c, h, channel.ConfirmOptions{
		Confirmations: c.confirmations,
		Limiter:       rate.NewLimiter(rate.Inf, 1),
	})
}

// Status implements channel.StatusSource. With auto-mining every poll of a
// shallow operation produces one block.
func (c *Chain) Status(_ context.Context, h channel.Handle) (channel.Receipt, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.ops[h.ID]
	if !ok {
		return channel.Receipt{}, false, fmt.Errorf("%w: %s", channel.ErrUnknownOperation, h.ID)
	}
	depth := int(c.head - o.receipt.Block + 1)
	if c.autoMine && depth < c.confirmations {
		c.head++
		depth++
	}
	r := o.receipt
	r.Confirmations = depth
	return r, false, nil
}

// Mint credits amount of token to holder.
func (c *Chain) Mint(token, holder diamond.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.balanceLocked(token, holder)
	b.Add(b, amount)
}

// BalanceOf returns the token balance of holder.
func (c *Chain) BalanceOf(_ context.Context, token, holder diamond.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[token.Lower()]; !ok {
		return nil, fmt.Errorf("simchain: %s is not a deployed token", token)
	}
	return new(big.Int).Set(c.balanceLocked(token, holder)), nil
}

// CodeName returns the module name deployed at addr.
func (c *Chain) CodeName(addr diamond.Address) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.contracts[addr.Lower()]
	if !ok {
		return "", false
	}
	return ct.name, true
}

func (c *Chain) deploy(name string, code []byte) diamond.Address {
	addr := c.nextAddress()
	c.contracts[addr.Lower()] = &contract{name: name, code: code}
	return addr
}

func (c *Chain) deployDiamond(in channel.DiamondIntent) (diamond.Address, error) {
	if !c.hasCode(in.CutFacet) {
		return "", errors.New("Diamond: cut facet has no code")
	}
	d := newDiamond(in.Owner)
	for _, s := range in.CutSelectors {
		d.table[s] = in.CutFacet
	}
	if err := c.runInit(in.Init, in.InitData); err != nil {
		return "", err
	}
	addr := c.deploy("Diamond", nil)
	c.diamonds[addr.Lower()] = d
	return addr, nil
}

func (c *Chain) cut(in channel.CutIntent) error {
	d, ok := c.diamonds[in.Diamond.Lower()]
	if !ok {
		return fmt.Errorf("no diamond at %s", in.Diamond)
	}
	next, err := d.applied(in.Cuts, c.hasCode)
	if err != nil {
		return err
	}
	if err := c.runInit(in.Init, in.InitData); err != nil {
		return err
	}
	d.table = next
	return nil
}

func (c *Chain) runInit(target diamond.Address, data []byte) error {
	if target == "" || target.IsZero() {
		if len(data) > 0 {
			return errors.New("LibDiamondCut: _init is address(0) but _calldata is not empty")
		}
		return nil
	}
	if !c.hasCode(target) {
		return errors.New("LibDiamondCut: _init address has no code")
	}
	if c.initHook != nil {
		if err := c.initHook(target, data); err != nil {
			return fmt.Errorf("LibDiamondCut: _init function reverted: %w", err)
		}
	}
	return nil
}

func (c *Chain) transfer(from diamond.Address, in channel.TransferIntent) error {
	if !c.hasCode(in.Token) {
		return fmt.Errorf("transfer: %s is not a token", in.Token)
	}
	if in.Amount == nil || in.Amount.Sign() < 0 {
		return errors.New("transfer: invalid amount")
	}
	src := c.balanceLocked(in.Token, from)
	if src.Cmp(in.Amount) < 0 {
		return errors.New("ERC20: transfer amount exceeds balance")
	}
	src.Sub(src, in.Amount)
	dst := c.balanceLocked(in.Token, in.To)
	dst.Add(dst, in.Amount)
	return nil
}

func (c *Chain) balanceLocked(token, holder diamond.Address) *big.Int {
	byHolder, ok := c.balances[token.Lower()]
	if !ok {
		byHolder = make(map[diamond.Address]*big.Int)
		c.balances[token.Lower()] = byHolder
	}
	b, ok := byHolder[holder.Lower()]
	if !ok {
		b = new(big.Int)
		byHolder[holder.Lower()] = b
	}
	return b
}

func (c *Chain) hasCode(addr diamond.Address) bool {
	_, ok := c.contracts[addr.Lower()]
	return ok
}

func (c *Chain) nextAddress() diamond.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(string(c.sender))))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	h.Write(n[:])
	return diamond.AddressFromBytes(h.Sum(nil))
}

func (c *Chain) txHash(kind string) string {
	h := sha3.NewLegacyKeccak256()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	h.Write(n[:])
	h.Write([]byte(kind))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

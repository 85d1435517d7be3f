package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/config"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
)

// Fund transfers each fund's amount of its token to the recorded diamond
// and records the transfer with the diamond's balance afterwards.
func (d *Driver) Fund(ctx context.Context, funds []config.Fund) ([]FundResult, error) {
	if d.deps.Balances == nil {
		return nil, errors.New("orchestrate: funding needs a balance reader")
	}
	var out []FundResult
	err := d.withLock(ctx, "diamond.fund", func(ctx context.Context, _ string) error {
		target, err := d.diamondAddress()
		if err != nil {
			return err
		}
		for _, f := range funds {
			res, err := d.fund(ctx, target, f)
			if err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	return out, err
}

func (d *Driver) fund(ctx context.Context, target diamond.Address, f config.Fund) (FundResult, error) {
	amount, ok := new(big.Int).SetString(f.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return FundResult{}, fmt.Errorf("fund %s: invalid amount %q", f.Token, f.Amount)
	}
	token, err := d.deps.Ledger.Address(d.settings.Context, f.Token)
	if err != nil {
		return FundResult{}, fmt.Errorf("fund %s: %w", f.Token, err)
	}
	m, err := d.load(f.Token)
	if err != nil {
		return FundResult{}, err
	}

	r, err := d.submit(ctx, "transfer "+f.Token, channel.TransferIntent{
		Token:  token,
		To:     target,
		Amount: amount,
	})
	if err != nil {
		return FundResult{}, err
	}
	balance, err := d.deps.Balances.BalanceOf(ctx, token, target)
	if err != nil {
		return FundResult{}, fmt.Errorf("fund %s: balance: %w", f.Token, err)
	}
	rec := ledger.NewFundRecord(amount, balance, m.version, r.ID)
	if err := d.deps.Ledger.RecordFund(ctx, d.settings.Context, f.Token, rec); err != nil {
		return FundResult{}, err
	}
	d.logger.InfoContext(ctx, "diamond funded", "token", f.Token, "sent", rec.SentAmount, "balance", rec.BalanceAfter)
	return FundResult{Token: f.Token, Record: rec}, nil
}

// LocalFund runs the manifest's funds on a development network.
func (d *Driver) LocalFund(ctx context.Context) ([]FundResult, error) {
	if d.settings.Network.Live {
		return nil, fmt.Errorf("%w: %s", ErrLiveNetwork, d.settings.Context.Network)
	}
	return d.Fund(ctx, d.settings.Manifest.Funds)
}

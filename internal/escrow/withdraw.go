package escrow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/metrics"
	"github.com/xtrntr/escrow/internal/models"
)

// WithdrawFunds pays out the caller's whole balance. The balance is zeroed
// before the payout is sent and restored if the payout fails.
func (e *Engine) WithdrawFunds(ctx context.Context, caller models.Address) (amount decimal.Decimal, err error) {
	ctx, c := e.enter(ctx, "withdraw_funds", logrus.Fields{"caller": caller})
	defer func() { err = c.finish(err) }()

	if err := e.requireInitialized(); err != nil {
		return decimal.Zero, err
	}

	amount = e.balances.Drain(caller)
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.New(apperrors.CodeNoFundsToWithdraw, "No funds to withdraw")
	}
	e.held = e.held.Sub(amount)

	if err := e.payer.Transfer(ctx, caller, amount); err != nil {
		e.balances.Credit(caller, amount)
		e.held = e.held.Add(amount)
		return decimal.Zero, apperrors.Wrap(apperrors.CodeFundsTransferFailed, "Funds transfer failed", err)
	}

	metrics.ObserveWithdrawal(amount)
	c.emit(models.Event{
		Kind:   models.EventFundsWithdrawn,
		Actor:  caller,
		Amount: amount,
	})
	return amount, nil
}

package services

import (
	"context"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
)

// walletAccount is the one capability a billing component needs from a payer
// or coach account: read the balance, move money. The two account kinds
// (registered user, anonymous guest) sit behind it; which kind a call's payer
// is gets resolved at call creation and stored on the call record.
type walletAccount interface {
	Balance(ctx context.Context) (float64, error)
	BalanceForUpdate(ctx context.Context) (float64, error)
	Debit(ctx context.Context, amount float64) (float64, error)
	Credit(ctx context.Context, amount float64) (float64, error)
}

type accountWallet struct {
	repo *repository.WalletRepository
	kind string
	id   int64
}

func walletFor(repo *repository.WalletRepository, kind string, id int64) walletAccount {
	return &accountWallet{repo: repo, kind: kind, id: id}
}

func (w *accountWallet) Balance(ctx context.Context) (float64, error) {
	return w.repo.Balance(ctx, w.kind, w.id)
}

func (w *accountWallet) BalanceForUpdate(ctx context.Context) (float64, error) {
	return w.repo.BalanceForUpdate(ctx, w.kind, w.id)
}

func (w *accountWallet) Debit(ctx context.Context, amount float64) (float64, error) {
	return w.repo.Debit(ctx, w.kind, w.id, amount)
}

func (w *accountWallet) Credit(ctx context.Context, amount float64) (float64, error) {
	return w.repo.Credit(ctx, w.kind, w.id, amount)
}

package kardex

import (
	"context"
	"time"
)

// TransactionRepository is the transaction stream provider.
type TransactionRepository interface {
	MovementTypeBySpecial(ctx context.Context, special SpecialKind) (MovementType, bool, error)
	Transaction(ctx context.Context, id int64) (Transaction, bool, error)
	// UncostedTransactions returns costable transactions with costed=false that are not under review.
	UncostedTransactions(ctx context.Context) ([]Transaction, error)
	// GroupTransactions returns every transaction of the group regardless of state.
	GroupTransactions(ctx context.Context, key GroupKey) ([]Transaction, error)
	Groups(ctx context.Context) ([]GroupKey, error)
	// CreateTransaction assigns the id and resolves kind and special from the movement type.
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	MarkCosted(ctx context.Context, ids []int64) error
	FlagForReview(ctx context.Context, id int64, reason ReviewReason, note string) error
	ClearReview(ctx context.Context, ids []int64) error
	// ResetGroupFlags clears costed, needs review and the review reason on every
	// transaction of the group. Notes are cleared only when clearNotes is set.
	ResetGroupFlags(ctx context.Context, key GroupKey, clearNotes bool) error
	DeleteTransaction(ctx context.Context, id int64) error
}

type LedgerRepository interface {
	GroupEntries(ctx context.Context, key GroupKey) ([]LedgerEntry, error)
	AppendEntries(ctx context.Context, entries []LedgerEntry) error
	DeleteGroupEntries(ctx context.Context, key GroupKey) error
	DeleteTransactionEntries(ctx context.Context, transactionID int64) (int, error)
}

type BalanceRepository interface {
	GroupBalance(ctx context.Context, key GroupKey) (GroupBalance, bool, error)
	SaveGroupBalance(ctx context.Context, balance GroupBalance) error
	DailyBalances(ctx context.Context, key GroupKey, from, to time.Time) ([]DailyBalance, error)
	SaveDailyBalances(ctx context.Context, balances []DailyBalance) error
	// DeleteGroupBalances removes the group balance and every daily balance of the group.
	DeleteGroupBalances(ctx context.Context, key GroupKey) error
	SnapshotOnOrBefore(ctx context.Context, key GroupKey, date time.Time) (BalanceSnapshot, bool, error)
	SaveSnapshot(ctx context.Context, snapshot BalanceSnapshot) error
}

type Repository interface {
	TransactionRepository
	LedgerRepository
	BalanceRepository
}

// UnitOfWork is an all-or-nothing scope over one group pass.
type UnitOfWork interface {
	Repository
	Commit() error
	Rollback() error
}

// Store reads committed state and opens units of work.
type Store interface {
	Repository
	Begin(ctx context.Context) (UnitOfWork, error)
}

// GroupLocker enforces at most one costing pass per group.
type GroupLocker interface {
	Lock(ctx context.Context, key GroupKey) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, GroupKey) (func(), error) { return func() {}, nil }

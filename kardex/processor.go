package kardex

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GroupOutcome describes one committed group pass.
type GroupOutcome struct {
	Group                GroupKey      `json:"group"`
	FullReplay           bool          `json:"full_replay"`
	Processed            int           `json:"processed"`
	Costed               []int64       `json:"costed"`
	Flagged              []int64       `json:"flagged,omitempty"`
	Blocked              []int64       `json:"blocked,omitempty"`
	ToleranceAdjustments []int64       `json:"tolerance_adjustments,omitempty"`
	EntriesAppended      int           `json:"entries_appended"`
	Balance              *GroupBalance `json:"balance,omitempty"`
}

type reviewFlag struct {
	id     int64
	reason ReviewReason
	note   string
}

// groupProcessor replays a batch of one group's transactions against the
// group's ledger. It writes only through the unit of work it was given.
type groupProcessor struct {
	repo     Repository
	key      GroupKey
	ledger   *Ledger
	lots     *LotQueue
	startSeq int
	settings Settings
	checker  ToleranceChecker
	logger   *logrus.Logger

	outcome   GroupOutcome
	flags     []reviewFlag
	firstDate time.Time
	types     map[SpecialKind]MovementType
}

func newGroupProcessor(repo Repository, key GroupKey, existing []LedgerEntry, settings Settings, logger *logrus.Logger) *groupProcessor {
	ledger := NewLedger(key, existing)
	startSeq := 0
	if last, ok := ledger.Last(); ok {
		startSeq = last.Sequence
	}
	return &groupProcessor{
		repo:     repo,
		key:      key,
		ledger:   ledger,
		lots:     ledger.Lots(),
		startSeq: startSeq,
		settings: settings,
		checker:  ToleranceChecker{AutoAdjustLimit: settings.AutoAdjustLimit},
		logger:   logger,
		outcome:  GroupOutcome{Group: key},
		types:    make(map[SpecialKind]MovementType),
	}
}

func (p *groupProcessor) run(ctx context.Context, batch []Transaction) (GroupOutcome, error) {
	txs := make([]Transaction, 0, len(batch))
	for _, tx := range batch {
		if tx.IsCostable() {
			txs = append(txs, tx)
		}
	}
	SortTransactions(txs)

	var blocker int64
	for _, tx := range txs {
		p.outcome.Processed++
		p.touch(tx.Date)
		if blocker != 0 {
			p.flag(tx.ID, ReviewBlocked, fmt.Sprintf("blocked by transaction %d", blocker))
			p.outcome.Blocked = append(p.outcome.Blocked, tx.ID)
			continue
		}
		switch tx.Kind {
		case MovementIngress:
			if err := p.ingress(tx); err != nil {
				return GroupOutcome{}, err
			}
		case MovementEgress:
			flagged, err := p.egress(ctx, tx)
			if err != nil {
				return GroupOutcome{}, err
			}
			if flagged && p.settings.SuspendOnShortfall {
				blocker = tx.ID
			}
		}
	}
	if err := p.persist(ctx); err != nil {
		return GroupOutcome{}, err
	}
	return p.outcome, nil
}

func (p *groupProcessor) touch(date time.Time) {
	if p.firstDate.IsZero() || date.Before(p.firstDate) {
		p.firstDate = date
	}
}

func (p *groupProcessor) flag(id int64, reason ReviewReason, note string) {
	p.flags = append(p.flags, reviewFlag{id: id, reason: reason, note: note})
}

func (p *groupProcessor) ingress(tx Transaction) error {
	entry := p.ledger.Append(LedgerEntry{
		TransactionID:    tx.ID,
		Date:             tx.Date,
		Kind:             MovementIngress,
		AcquiredQuantity: tx.Magnitude(),
		AcquiredUnitCost: tx.UnitPrice,
	})
	p.lots.Push(Lot{
		Sequence:          entry.Sequence,
		TransactionID:     tx.ID,
		AcquisitionDate:   tx.Date,
		RemainingQuantity: entry.AcquiredQuantity,
		UnitCost:          entry.AcquiredUnitCost,
	})
	if err := p.checkBalance(entry); err != nil {
		return err
	}
	p.outcome.Costed = append(p.outcome.Costed, tx.ID)
	return nil
}

// egress reports true when the disposal was sent to review instead of costed.
func (p *groupProcessor) egress(ctx context.Context, tx Transaction) (bool, error) {
	need := tx.Magnitude()
	assessment := p.checker.Assess(need, p.lots.Available())
	switch assessment.Verdict {
	case VerdictReview:
		p.review(tx, need, assessment)
		return true, nil
	case VerdictAutoAdjust:
		if err := p.toleranceAdjust(ctx, tx, assessment); err != nil {
			return false, err
		}
	}

	work := p.lots.Clone()
	res := work.Match(need)
	if !res.Complete() {
		p.review(tx, need, Assessment{Verdict: VerdictReview, Shortfall: res.Shortfall})
		return true, nil
	}
	p.lots = work

	if len(res.Draws) == 0 {
		entry := p.ledger.Append(LedgerEntry{
			TransactionID:     tx.ID,
			Date:              tx.Date,
			Kind:              MovementEgress,
			DisposalUnitPrice: tx.UnitPrice,
		})
		if err := p.checkBalance(entry); err != nil {
			return false, err
		}
	}
	for _, d := range res.Draws {
		acquired := d.Lot.AcquisitionDate
		entry := p.ledger.Append(LedgerEntry{
			TransactionID:      tx.ID,
			Date:               tx.Date,
			Kind:               MovementEgress,
			ConsumedQuantity:   d.Quantity,
			ConsumedUnitCost:   d.Lot.UnitCost,
			LotSequence:        d.Lot.Sequence,
			LotAcquisitionDate: &acquired,
			DisposalUnitPrice:  tx.UnitPrice,
			RealizedResult:     d.Quantity.Mul(tx.UnitPrice.Sub(d.Lot.UnitCost)),
		})
		if err := p.checkBalance(entry); err != nil {
			return false, err
		}
	}
	p.outcome.Costed = append(p.outcome.Costed, tx.ID)
	return false, nil
}

func (p *groupProcessor) review(tx Transaction, need decimal.Decimal, a Assessment) {
	note := fmt.Sprintf("insufficient lots: requested=%s available=%s missing=%s",
		need, need.Sub(a.Shortfall), a.Shortfall)
	p.flag(tx.ID, ReviewInsufficientLots, note)
	p.outcome.Flagged = append(p.outcome.Flagged, tx.ID)
	p.logger.WithFields(logrus.Fields{
		"group":          p.key.String(),
		"transaction_id": tx.ID,
		"qty_missing":    a.Shortfall.String(),
	}).Warn("kardex.egress.review")
}

// toleranceAdjust covers a small short-fall with a costed ingress at the
// disposal price, processed through the normal ingress path.
func (p *groupProcessor) toleranceAdjust(ctx context.Context, egress Transaction, a Assessment) error {
	mt, err := p.movementType(ctx, SpecialToleranceAdjustment, MovementIngress)
	if err != nil {
		return err
	}
	created, err := p.repo.CreateTransaction(ctx, Transaction{
		Group:                  p.key,
		Date:                   egress.Date,
		MovementTypeID:         mt.ID,
		MovementName:           mt.Name,
		Kind:                   MovementIngress,
		Special:                SpecialToleranceAdjustment,
		Quantity:               a.Shortfall,
		UnitPrice:              egress.UnitPrice,
		ReferenceTransactionID: egress.ID,
		Note:                   fmt.Sprintf("tolerance adjustment for transaction %d", egress.ID),
	})
	if err != nil {
		return fmt.Errorf("create tolerance adjustment for transaction_id=%d: %w", egress.ID, err)
	}
	p.outcome.ToleranceAdjustments = append(p.outcome.ToleranceAdjustments, created.ID)
	p.logger.WithFields(logrus.Fields{
		"group":          p.key.String(),
		"transaction_id": egress.ID,
		"adjustment_id":  created.ID,
		"quantity":       a.Shortfall.String(),
	}).Info("kardex.egress.tolerance_adjustment")
	return p.ingress(created)
}

func (p *groupProcessor) movementType(ctx context.Context, special SpecialKind, kind MovementKind) (MovementType, error) {
	if mt, ok := p.types[special]; ok {
		return mt, nil
	}
	mt, err := requireMovementType(ctx, p.repo, special, kind)
	if err != nil {
		return MovementType{}, err
	}
	p.types[special] = mt
	return mt, nil
}

func requireMovementType(ctx context.Context, repo TransactionRepository, special SpecialKind, kind MovementKind) (MovementType, error) {
	mt, ok, err := repo.MovementTypeBySpecial(ctx, special)
	if err != nil {
		return MovementType{}, err
	}
	if !ok {
		return MovementType{}, fmt.Errorf("%w: movement type %s does not exist", ErrMissingConfiguration, special)
	}
	if mt.Kind != kind {
		return MovementType{}, fmt.Errorf("%w: movement type %s has kind %s, expected %s", ErrMissingConfiguration, special, mt.Kind, kind)
	}
	return mt, nil
}

func (p *groupProcessor) checkBalance(e LedgerEntry) error {
	floor := p.settings.Epsilon.Neg()
	if e.RunningQuantity.LessThan(floor) || e.RunningTotalCost.LessThan(floor) {
		return fmt.Errorf("%w: group=%s transaction_id=%d sequence=%d quantity=%s total_cost=%s",
			ErrNegativeBalance, p.key, e.TransactionID, e.Sequence, e.RunningQuantity, e.RunningTotalCost)
	}
	return nil
}

func (p *groupProcessor) persist(ctx context.Context) error {
	appended := p.ledger.Since(p.startSeq)
	if len(appended) > 0 {
		if err := p.repo.AppendEntries(ctx, appended); err != nil {
			return fmt.Errorf("append ledger entries group=%s: %w", p.key, err)
		}
	}
	p.outcome.EntriesAppended = len(appended)
	if len(p.outcome.Costed) > 0 {
		if err := p.repo.MarkCosted(ctx, p.outcome.Costed); err != nil {
			return fmt.Errorf("mark costed group=%s: %w", p.key, err)
		}
	}
	for _, f := range p.flags {
		if err := p.repo.FlagForReview(ctx, f.id, f.reason, f.note); err != nil {
			return fmt.Errorf("flag transaction_id=%d: %w", f.id, err)
		}
	}
	balance, ok := p.ledger.Balance()
	if !ok {
		return nil
	}
	if err := p.repo.SaveGroupBalance(ctx, balance); err != nil {
		return fmt.Errorf("save group balance group=%s: %w", p.key, err)
	}
	p.outcome.Balance = &balance
	if len(appended) == 0 {
		return nil
	}
	from := p.firstDate
	if first := appended[0].Date; from.IsZero() || first.Before(from) {
		from = first
	}
	daily := DailyClosings(p.key, p.ledger.Entries(), from, balance.LastDate)
	if err := p.repo.SaveDailyBalances(ctx, daily); err != nil {
		return fmt.Errorf("save daily balances group=%s: %w", p.key, err)
	}
	return nil
}

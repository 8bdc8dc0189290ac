package kardex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type RecostState string

const (
	RecostIdle      RecostState = "IDLE"
	RecostResetting RecostState = "RESETTING"
	RecostReplaying RecostState = "REPLAYING"
)

// Recost parses the interchange key and rebuilds that group.
func (e *Engine) Recost(ctx context.Context, groupKey string) (GroupOutcome, error) {
	key, err := ParseGroupKey(groupKey)
	if err != nil {
		return GroupOutcome{}, err
	}
	return e.RecostGroup(ctx, key)
}

// RecostGroup deletes the group's ledger and balances and replays its full
// history as one unit of work. On failure the group is left as it was.
func (e *Engine) RecostGroup(ctx context.Context, key GroupKey) (outcome GroupOutcome, err error) {
	if err := key.Validate(); err != nil {
		return GroupOutcome{}, err
	}
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("lock group=%s: %w", key, err)
	}
	defer unlock()

	before, err := e.fingerprint(ctx, key)
	if err != nil {
		return GroupOutcome{}, err
	}
	logger := e.logger.WithFields(logrus.Fields{"group": key.String()})
	logger.Info("kardex.recost.start")

	e.observe(key, RecostResetting)
	defer e.observe(key, RecostIdle)

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("begin group=%s: %w", key, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback()
			logger.Warn("kardex.recost.rolled_back")
		}
	}()

	if err := resetGroup(ctx, uow, key, false); err != nil {
		return GroupOutcome{}, err
	}

	e.observe(key, RecostReplaying)
	after, err := e.fingerprint(ctx, key)
	if err != nil {
		return GroupOutcome{}, err
	}
	if after != before {
		return GroupOutcome{}, fmt.Errorf("%w: transactions of group=%s changed during recost", ErrConcurrentModification, key)
	}
	all, err := uow.GroupTransactions(ctx, key)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("load transactions group=%s: %w", key, err)
	}
	outcome, err = newGroupProcessor(uow, key, nil, e.settings, e.logger).run(ctx, all)
	if err != nil {
		return GroupOutcome{}, err
	}
	outcome.FullReplay = true
	if err := uow.Commit(); err != nil {
		return GroupOutcome{}, fmt.Errorf("commit group=%s: %w", key, err)
	}
	committed = true
	e.logOutcome(outcome)
	return outcome, nil
}

// fingerprint identifies the committed transaction set of a group.
func (e *Engine) fingerprint(ctx context.Context, key GroupKey) (string, error) {
	txs, err := e.store.GroupTransactions(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load transactions group=%s: %w", key, err)
	}
	ids := make([]int64, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte(',')
	}
	return b.String(), nil
}

func (e *Engine) observe(key GroupKey, state RecostState) {
	if e.observer != nil {
		e.observer(key, state)
	}
}

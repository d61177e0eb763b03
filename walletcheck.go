package billing

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/wallet"
)

// CheckStep is the action a wallet check took.
type CheckStep string

const (
	CheckNone             CheckStep = ""
	CheckInitial          CheckStep = "initial"
	CheckBeforeReminder   CheckStep = "before_reminder"
	CheckReminder         CheckStep = "reminder"
	CheckBeforeDegrade    CheckStep = "before_degrade"
	CheckDegrade          CheckStep = "degrade"
	CheckDegradedReminder CheckStep = "degraded_reminder"
)

// Thresholds measured from the moment the balance went negative.
const (
	initialAfter        = time.Hour
	beforeReminderAfter = 6 * 24 * time.Hour
	reminderAfter       = 7 * 24 * time.Hour
	beforeDegradeAfter  = 13 * 24 * time.Hour
	degradeAfter        = 14 * 24 * time.Hour
)

// CheckWallet advances the negative-balance schedule of a wallet: it warns
// the owner, tries auto-payment top-ups before each escalation, and
// restricts the wallet two weeks after the balance went negative. Each
// warning is sent once per negative period. Restricted wallets get a
// reminder every DegradedReminderInterval.
func (e *Engine) CheckWallet(ctx context.Context, walletID id.WalletID) (CheckStep, error) {
	var (
		step       CheckStep
		after      effects
		restricted bool
	)
	now := e.now()

	w, err := e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		step, after, restricted = CheckNone, nil, false

		c := &w.Check
		if w.Balance >= 0 {
			c.Reset()
			return nil
		}
		if c.NegativeSince == nil {
			c.NegativeSince = timePtr(now)
		}

		if w.Restricted {
			if c.DegradedSentAt == nil || now.Sub(*c.DegradedSentAt) >= e.config.DegradedReminderInterval {
				c.DegradedSentAt = timePtr(now)
				step = CheckDegradedReminder
				e.warnOwner(w, notify.KindDegradedAccountReminder, &after)
			}
			return nil
		}

		age := now.Sub(*c.NegativeSince)
		switch {
		case age >= degradeAfter:
			w.Restricted = true
			restricted = true
			c.DegradedSentAt = timePtr(now)
			step = CheckDegrade
			e.warnOwner(w, notify.KindNegativeBalanceDegraded, &after)
		case age >= beforeDegradeAfter:
			step = CheckBeforeDegrade
		case age >= reminderAfter:
			if c.ReminderSentAt == nil {
				c.ReminderSentAt = timePtr(now)
				step = CheckReminder
				e.warnOwner(w, notify.KindNegativeBalanceReminder, &after)
			}
		case age >= beforeReminderAfter:
			step = CheckBeforeReminder
		case age >= initialAfter:
			if c.InitialSentAt == nil {
				c.InitialSentAt = timePtr(now)
				step = CheckInitial
				e.warnOwner(w, notify.KindNegativeBalance, &after)
			}
		}
		return nil
	})
	if err != nil {
		return CheckNone, err
	}

	after.run(ctx)
	if restricted {
		e.plugins.EmitWalletRestricted(ctx, w)
	}
	if step == CheckBeforeReminder || step == CheckBeforeDegrade {
		e.requestTopUp(ctx, w.ID)
	}
	if step != CheckNone {
		e.logger.Info("wallet checked",
			"wallet_id", w.ID.String(),
			"step", step,
			"balance", w.Balance,
		)
	}
	return step, nil
}

// CheckWallets runs CheckWallet on every wallet with a negative balance
// and returns the steps taken, keyed by wallet id. Failures are logged and
// do not stop the run.
func (e *Engine) CheckWallets(ctx context.Context) (map[string]CheckStep, error) {
	steps := make(map[string]CheckStep)
	const page = 100
	for offset := 0; ; offset += page {
		ws, err := e.store.ListWallets(ctx, wallet.ListOpts{Negative: true, Limit: page, Offset: offset})
		if err != nil {
			return steps, err
		}
		for _, w := range ws {
			step, err := e.CheckWallet(ctx, w.ID)
			if err != nil {
				e.logger.Warn("wallet check failed", "wallet_id", w.ID.String(), "error", err)
				continue
			}
			if step != CheckNone {
				steps[w.ID.String()] = step
			}
		}
		if len(ws) < page {
			return steps, nil
		}
	}
}

// warnOwner queues a negative-balance notification for w.
func (e *Engine) warnOwner(w *wallet.Wallet, kind notify.Kind, after *effects) {
	n := notify.Notification{
		Kind:     kind,
		WalletID: w.ID,
		OwnerID:  w.OwnerID,
		Currency: w.Currency,
		Balance:  w.Balance,
	}
	after.add(func(ctx context.Context) { e.notify(ctx, n) })
}

func timePtr(t time.Time) *time.Time { return &t }

package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/wallet"
)

const sweepPageSize = 100

// Engine is the part of *billing.Engine the workers drive.
type Engine interface {
	ListWallets(ctx context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error)
	ChargeEntitlements(ctx context.Context, walletID id.WalletID) (*billing.ChargeResult, error)
	TopUp(ctx context.Context, walletID id.WalletID) (bool, error)
	CheckWallet(ctx context.Context, walletID id.WalletID) (billing.CheckStep, error)
	CheckWallets(ctx context.Context) (map[string]billing.CheckStep, error)
}

// Register adds every billing worker to workers. Notifications are
// delivered through sink.
func Register(workers *river.Workers, eng Engine, q *Queue, sink notify.Notifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	river.AddWorker(workers, &SweepWorker{engine: eng, queue: q, logger: logger})
	river.AddWorker(workers, &ChargeWalletWorker{engine: eng, logger: logger})
	river.AddWorker(workers, &WalletCheckWorker{engine: eng, logger: logger})
	river.AddWorker(workers, &TopUpWorker{engine: eng, logger: logger})
	river.AddWorker(workers, &NotifyWorker{sink: sink})
}

// cancelMissing stops retrying jobs for wallets that no longer exist.
func cancelMissing(err error) error {
	if billing.IsNotFound(err) {
		return river.JobCancel(err)
	}
	return err
}

// ──────────────────────────────────────────────────
// Sweep
// ──────────────────────────────────────────────────

// SweepWorker enqueues one charge job per wallet.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	engine Engine
	queue  *Queue
	logger *slog.Logger
}

// Work implements river.Worker.
func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	var enqueued int
	for offset := 0; ; offset += sweepPageSize {
		page, err := w.engine.ListWallets(ctx, wallet.ListOpts{Limit: sweepPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("billing/jobs: list wallets: %w", err)
		}
		for _, wl := range page {
			if err := w.queue.Insert(ctx, ChargeWalletArgs{WalletID: wl.ID}); err != nil {
				return fmt.Errorf("billing/jobs: enqueue charge %s: %w", wl.ID, err)
			}
			enqueued++
		}
		if len(page) < sweepPageSize {
			break
		}
	}
	w.logger.InfoContext(ctx, "billing sweep enqueued", "wallets", enqueued)
	return nil
}

// ──────────────────────────────────────────────────
// Charge
// ──────────────────────────────────────────────────

// ChargeWalletWorker charges a wallet's entitlements and tops it up when
// the charge took it under its mandate threshold.
type ChargeWalletWorker struct {
	river.WorkerDefaults[ChargeWalletArgs]
	engine Engine
	logger *slog.Logger
}

// Work implements river.Worker.
func (w *ChargeWalletWorker) Work(ctx context.Context, job *river.Job[ChargeWalletArgs]) error {
	walletID := job.Args.WalletID
	res, err := w.engine.ChargeEntitlements(ctx, walletID)
	if err != nil {
		return cancelMissing(err)
	}
	if res.Total != 0 {
		w.logger.InfoContext(ctx, "wallet charged",
			"wallet_id", walletID.String(),
			"total", res.Total,
			"charged", res.Charged,
		)
	}

	if _, err := w.engine.TopUp(ctx, walletID); err != nil {
		// The charge is committed; retrying it would be a no-op but the
		// top-up deserves another attempt.
		return cancelMissing(err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Wallet check
// ──────────────────────────────────────────────────

// WalletCheckWorker runs the negative balance schedule.
type WalletCheckWorker struct {
	river.WorkerDefaults[WalletCheckArgs]
	engine Engine
	logger *slog.Logger
}

// Work implements river.Worker.
func (w *WalletCheckWorker) Work(ctx context.Context, job *river.Job[WalletCheckArgs]) error {
	if job.Args.WalletID.IsNil() {
		steps, err := w.engine.CheckWallets(ctx)
		if err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "wallets checked", "advanced", len(steps))
		return nil
	}

	step, err := w.engine.CheckWallet(ctx, job.Args.WalletID)
	if err != nil {
		return cancelMissing(err)
	}
	if step != billing.CheckNone {
		w.logger.InfoContext(ctx, "wallet checked",
			"wallet_id", job.Args.WalletID.String(),
			"step", string(step),
		)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Top-up
// ──────────────────────────────────────────────────

// TopUpWorker charges a wallet's mandate.
type TopUpWorker struct {
	river.WorkerDefaults[TopUpArgs]
	engine Engine
	logger *slog.Logger
}

// Work implements river.Worker.
func (w *TopUpWorker) Work(ctx context.Context, job *river.Job[TopUpArgs]) error {
	started, err := w.engine.TopUp(ctx, job.Args.WalletID)
	if err != nil {
		return cancelMissing(err)
	}
	w.logger.DebugContext(ctx, "top-up processed",
		"wallet_id", job.Args.WalletID.String(),
		"started", started,
	)
	return nil
}

// ──────────────────────────────────────────────────
// Notify
// ──────────────────────────────────────────────────

// NotifyWorker hands notifications to the delivery sink.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	sink notify.Notifier
}

// Work implements river.Worker.
func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	return w.sink.Notify(ctx, job.Args.Notification)
}

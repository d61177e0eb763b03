// Package jobs runs the billing engine's background work on River.
//
// Workers cover the periodic accounting sweep, per-wallet charging, the
// negative balance check, mandate top-ups and notification delivery. A
// Queue enqueues jobs and doubles as the engine's billing.Scheduler and
// notify.Notifier so that top-ups and owner notifications leave the
// request path.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/notify"
)

// Job kinds.
const (
	KindSweep        = "billing.sweep"
	KindChargeWallet = "billing.charge_wallet"
	KindWalletCheck  = "billing.wallet_check"
	KindTopUp        = "billing.top_up"
	KindNotify       = "billing.notify"
)

// ErrNotBound is returned when a job is enqueued before the Queue was
// bound to a River client.
var ErrNotBound = errors.New("billing/jobs: queue not bound to a client")

// ──────────────────────────────────────────────────
// Job arguments
// ──────────────────────────────────────────────────

// SweepArgs fans a charge job out to every wallet.
type SweepArgs struct{}

// Kind implements river.JobArgs.
func (SweepArgs) Kind() string { return KindSweep }

// InsertOpts implements river.JobArgsWithInsertOpts.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: 10 * time.Minute}}
}

// ChargeWalletArgs charges the entitlements of one wallet.
type ChargeWalletArgs struct {
	WalletID id.WalletID `json:"wallet_id"`
}

// Kind implements river.JobArgs.
func (ChargeWalletArgs) Kind() string { return KindChargeWallet }

// InsertOpts implements river.JobArgsWithInsertOpts. A wallet is charged
// at most once per hour however often the sweep runs.
func (ChargeWalletArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Hour}}
}

// WalletCheckArgs runs the negative balance check. An empty WalletID
// checks every wallet below zero.
type WalletCheckArgs struct {
	WalletID id.WalletID `json:"wallet_id"`
}

// Kind implements river.JobArgs.
func (WalletCheckArgs) Kind() string { return KindWalletCheck }

// TopUpArgs requests an auto-payment for one wallet.
type TopUpArgs struct {
	WalletID id.WalletID `json:"wallet_id"`
}

// Kind implements river.JobArgs.
func (TopUpArgs) Kind() string { return KindTopUp }

// InsertOpts implements river.JobArgsWithInsertOpts.
func (TopUpArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute}}
}

// NotifyArgs delivers one notification.
type NotifyArgs struct {
	Notification notify.Notification `json:"notification"`
}

// Kind implements river.JobArgs.
func (NotifyArgs) Kind() string { return KindNotify }

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

// Inserter enqueues jobs. *river.Client satisfies it.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue enqueues billing jobs. It is created before the River client
// exists, since the client needs the workers and the workers need the
// queue, and is bound once the client is built.
type Queue struct {
	mu  sync.RWMutex
	ins Inserter
}

// NewQueue creates an unbound Queue.
func NewQueue() *Queue { return &Queue{} }

// Bind sets the client jobs are inserted through.
func (q *Queue) Bind(ins Inserter) {
	q.mu.Lock()
	q.ins = ins
	q.mu.Unlock()
}

// Insert enqueues a job.
func (q *Queue) Insert(ctx context.Context, args river.JobArgs) error {
	q.mu.RLock()
	ins := q.ins
	q.mu.RUnlock()
	if ins == nil {
		return ErrNotBound
	}
	_, err := ins.Insert(ctx, args, nil)
	return err
}

// ScheduleTopUp implements billing.Scheduler.
func (q *Queue) ScheduleTopUp(ctx context.Context, walletID id.WalletID) error {
	return q.Insert(ctx, TopUpArgs{WalletID: walletID})
}

// Notify implements notify.Notifier by enqueueing the notification for
// the notify worker.
func (q *Queue) Notify(ctx context.Context, n notify.Notification) error {
	return q.Insert(ctx, NotifyArgs{Notification: n})
}

// ──────────────────────────────────────────────────
// Periodic jobs
// ──────────────────────────────────────────────────

// Schedule sets how often the periodic jobs run.
type Schedule struct {
	Sweep       time.Duration `json:"sweep" yaml:"sweep"`
	WalletCheck time.Duration `json:"wallet_check" yaml:"wallet_check"`
}

// DefaultSchedule sweeps hourly and checks negative wallets every 15 minutes.
func DefaultSchedule() Schedule {
	return Schedule{Sweep: time.Hour, WalletCheck: 15 * time.Minute}
}

// PeriodicJobs returns the periodic jobs for river.Config.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(s.Sweep),
			func() (river.JobArgs, *river.InsertOpts) { return SweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.WalletCheck),
			func() (river.JobArgs, *river.InsertOpts) { return WalletCheckArgs{}, nil },
			nil,
		),
	}
}

package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/wallet"
)

type inserter struct {
	jobs []river.JobArgs
	err  error
}

func (i *inserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if i.err != nil {
		return nil, i.err
	}
	i.jobs = append(i.jobs, args)
	return &rivertype.JobInsertResult{}, nil
}

func newEngine(t *testing.T, n int) (*billing.Engine, []*wallet.Wallet) {
	t.Helper()
	eng := billing.New(memory.New())
	var ws []*wallet.Wallet
	for range n {
		w := &wallet.Wallet{OwnerID: "jane", Currency: "chf"}
		require.NoError(t, eng.CreateWallet(context.Background(), w))
		ws = append(ws, w)
	}
	return eng, ws
}

func TestQueueUnbound(t *testing.T) {
	q := NewQueue()
	err := q.ScheduleTopUp(context.Background(), id.NewWalletID())
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestQueueSchedulesAndNotifies(t *testing.T) {
	ins := &inserter{}
	q := NewQueue()
	q.Bind(ins)
	ctx := context.Background()
	walletID := id.NewWalletID()

	require.NoError(t, q.ScheduleTopUp(ctx, walletID))
	require.NoError(t, q.Notify(ctx, notify.Notification{Kind: notify.KindPaymentSuccess, WalletID: walletID}))

	require.Len(t, ins.jobs, 2)
	assert.Equal(t, TopUpArgs{WalletID: walletID}, ins.jobs[0])
	assert.Equal(t, KindNotify, ins.jobs[1].Kind())
}

func TestQueuePropagatesInsertError(t *testing.T) {
	q := NewQueue()
	q.Bind(&inserter{err: errors.New("db down")})
	assert.EqualError(t, q.ScheduleTopUp(context.Background(), id.NewWalletID()), "db down")
}

func TestSweepFansOut(t *testing.T) {
	eng, ws := newEngine(t, 3)
	ins := &inserter{}
	q := NewQueue()
	q.Bind(ins)

	w := &SweepWorker{engine: eng, queue: q, logger: discard()}
	require.NoError(t, w.Work(context.Background(), &river.Job[SweepArgs]{}))

	require.Len(t, ins.jobs, 3)
	got := map[string]bool{}
	for _, j := range ins.jobs {
		got[j.(ChargeWalletArgs).WalletID.String()] = true
	}
	for _, wl := range ws {
		assert.True(t, got[wl.ID.String()], wl.ID.String())
	}
}

func TestChargeWallet(t *testing.T) {
	eng, ws := newEngine(t, 1)
	w := &ChargeWalletWorker{engine: eng, logger: discard()}

	err := w.Work(context.Background(), &river.Job[ChargeWalletArgs]{Args: ChargeWalletArgs{WalletID: ws[0].ID}})
	require.NoError(t, err)
}

func TestMissingWalletCancels(t *testing.T) {
	eng, _ := newEngine(t, 0)
	missing := id.NewWalletID()

	charge := &ChargeWalletWorker{engine: eng, logger: discard()}
	err := charge.Work(context.Background(), &river.Job[ChargeWalletArgs]{Args: ChargeWalletArgs{WalletID: missing}})
	assert.ErrorIs(t, err, billing.ErrWalletNotFound)

	topUp := &TopUpWorker{engine: eng, logger: discard()}
	err = topUp.Work(context.Background(), &river.Job[TopUpArgs]{Args: TopUpArgs{WalletID: missing}})
	assert.ErrorIs(t, err, billing.ErrWalletNotFound)
}

func TestWalletCheckAll(t *testing.T) {
	eng, ws := newEngine(t, 2)
	ctx := context.Background()
	_, err := eng.Debit(ctx, ws[0].ID, 500, "usage")
	require.NoError(t, err)

	w := &WalletCheckWorker{engine: eng, logger: discard()}
	require.NoError(t, w.Work(ctx, &river.Job[WalletCheckArgs]{}))
	require.NoError(t, w.Work(ctx, &river.Job[WalletCheckArgs]{Args: WalletCheckArgs{WalletID: ws[0].ID}}))

	got, err := eng.GetWallet(ctx, ws[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Check.NegativeSince)
}

func TestNotifyWorkerDelivers(t *testing.T) {
	var delivered []notify.Notification
	w := &NotifyWorker{sink: notify.Func(func(_ context.Context, n notify.Notification) error {
		delivered = append(delivered, n)
		return nil
	})}

	n := notify.Notification{Kind: notify.KindMandateDisabled, OwnerID: "jane"}
	require.NoError(t, w.Work(context.Background(), &river.Job[NotifyArgs]{Args: NotifyArgs{Notification: n}}))
	assert.Equal(t, []notify.Notification{n}, delivered)
}

func TestRegister(t *testing.T) {
	eng, _ := newEngine(t, 0)
	workers := river.NewWorkers()
	Register(workers, eng, NewQueue(), notify.NewLogNotifier(nil), nil)
	assert.Len(t, PeriodicJobs(DefaultSchedule()), 2)
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

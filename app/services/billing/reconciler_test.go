package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"companion/app/models/notification"
	"companion/app/models/order"
	"companion/app/repositories"
	"companion/pkg/database/dbtest"
	"companion/pkg/payment/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
	done   chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 16)}
}

func (n *recordingNotifier) NotifyPaid(ctx context.Context, o *order.Order) error {
	n.mu.Lock()
	n.orders = append(n.orders, o.OrderNo)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

type reconcileFixture struct {
	db       *gorm.DB
	r        *Reconciler
	orders   *repositories.OrderRepository
	credits  *repositories.CreditRepository
	notifier *recordingNotifier
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	db := dbtest.New(t)
	notifier := newRecordingNotifier()
	return &reconcileFixture{
		db:       db,
		r:        NewReconciler(db, notifier, nil),
		orders:   repositories.NewOrderRepository(db),
		credits:  repositories.NewCreditRepository(db),
		notifier: notifier,
	}
}

func (f *reconcileFixture) seed(t *testing.T, orderNo string, status order.Status) *order.Order {
	t.Helper()
	o := &order.Order{
		OrderNo:       orderNo,
		UserID:        "user_1",
		UserEmail:     "user@example.com",
		Provider:      "stripe",
		PaymentMethod: order.MethodCard,
		Amount:        999,
		Currency:      "usd",
		Credits:       100,
		Status:        status,
		ProductID:     "credits_100",
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func (f *reconcileFixture) status(t *testing.T, orderNo string) order.Status {
	t.Helper()
	o, err := f.orders.GetByOrderNo(context.Background(), orderNo)
	require.NoError(t, err)
	return o.Status
}

func (f *reconcileFixture) ledgerEntries(t *testing.T, orderNo string) int64 {
	t.Helper()
	n, err := f.credits.CountByOrderNo(context.Background(), orderNo)
	require.NoError(t, err)
	return n
}

func (f *reconcileFixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.credits.Balance(context.Background(), "user_1", time.Now().UTC())
	require.NoError(t, err)
	return b
}

func (f *reconcileFixture) waitNotified(t *testing.T) {
	t.Helper()
	select {
	case <-f.notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
}

func paidNotification(orderNo string) *types.Notification {
	return &types.Notification{
		Provider:              types.ProviderStripe,
		OrderNo:               orderNo,
		ProviderSessionID:     "cs_1",
		ProviderTransactionID: "pi_1",
		RawStatus:             "checkout.session.completed",
		Status:                order.StatusPaid,
		Amount:                999,
		Currency:              "usd",
		RawPayload:            []byte(`{"id":"evt_1"}`),
	}
}

func TestApplyPaidCreditsOnce(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)
	ctx := context.Background()

	res, err := f.r.Apply(ctx, paidNotification("ord_1"))
	require.NoError(t, err)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	assert.Equal(t, order.StatusPaid, res.Status)
	f.waitNotified(t)

	o, err := f.orders.GetByOrderNo(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	require.NotNil(t, o.PaidAt)
	require.NotNil(t, o.ProviderTransactionID)
	assert.Equal(t, "pi_1", *o.ProviderTransactionID)
	assert.Equal(t, "checkout.session.completed", o.PaidDetail["raw_status"])
	assert.Equal(t, int64(100), f.balance(t))

	// 重复投递
	for i := 0; i < 3; i++ {
		res, err = f.r.Apply(ctx, paidNotification("ord_1"))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultAlreadyPaid, res.Outcome)
	}
	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))
	assert.Equal(t, int64(100), f.balance(t))

	logs, err := repositories.NewNotificationRepository(f.db).ListByOrderNo(ctx, "ord_1")
	require.NoError(t, err)
	assert.Len(t, logs, 4)
}

func TestApplyPaidConcurrentDeliveries(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)

	const deliveries = 8
	var wg sync.WaitGroup
	results := make(chan notification.Result, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.r.Apply(context.Background(), paidNotification("ord_1"))
			if assert.NoError(t, err) {
				results <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(results)

	credited := 0
	for outcome := range results {
		if outcome == notification.ResultCredited {
			credited++
		} else {
			assert.Equal(t, notification.ResultAlreadyPaid, outcome)
		}
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))
	assert.Equal(t, int64(100), f.balance(t))
}

func TestApplyFailedNeverDowngradesPaid(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)
	ctx := context.Background()

	_, err := f.r.Apply(ctx, paidNotification("ord_1"))
	require.NoError(t, err)
	f.waitNotified(t)

	res, err := f.r.Apply(ctx, &types.Notification{
		Provider:  types.ProviderStripe,
		OrderNo:   "ord_1",
		RawStatus: "checkout.session.expired",
		Status:    order.StatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, notification.ResultNoop, res.Outcome)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))
}

func TestApplyFailedThenLatePaid(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)
	ctx := context.Background()

	res, err := f.r.Apply(ctx, &types.Notification{Provider: types.ProviderZhuFuFm, OrderNo: "ord_1", RawStatus: "FAIL", Status: order.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, notification.ResultFailed, res.Outcome)
	assert.Equal(t, order.StatusFailed, f.status(t, "ord_1"))
	assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_1"))

	// 重复的失败回调不改变任何东西
	res, err = f.r.Apply(ctx, &types.Notification{Provider: types.ProviderZhuFuFm, OrderNo: "ord_1", RawStatus: "FAIL", Status: order.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, notification.ResultNoop, res.Outcome)

	res, err = f.r.Apply(ctx, paidNotification("ord_1"))
	require.NoError(t, err)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))
	f.waitNotified(t)
}

func TestApplyPaidAfterRefundIsNotCredited(t *testing.T) {
	ctx := context.Background()
	nowpayments := func(orderNo, raw string, status order.Status) *types.Notification {
		return &types.Notification{
			Provider:              types.ProviderNOWPayments,
			OrderNo:               orderNo,
			ProviderTransactionID: "5077125051",
			RawStatus:             raw,
			Status:                status,
			Amount:                999,
			Currency:              "usd",
		}
	}

	t.Run("refunded then finished", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.seed(t, "ord_1", order.StatusPending)

		res, err := f.r.Apply(ctx, nowpayments("ord_1", "refunded", order.StatusFailed))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultFailed, res.Outcome)

		o, err := f.orders.GetByOrderNo(ctx, "ord_1")
		require.NoError(t, err)
		assert.Equal(t, "refunded", o.PaidDetail[order.DetailFailedRawStatus])
		assert.True(t, o.FailedByRefund())

		res, err = f.r.Apply(ctx, nowpayments("ord_1", "finished", order.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultNoop, res.Outcome)
		assert.Equal(t, order.StatusFailed, f.status(t, "ord_1"))
		assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_1"))
		assert.Equal(t, int64(0), f.balance(t))
	})

	t.Run("expired then refunded then finished", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.seed(t, "ord_1", order.StatusPending)

		_, err := f.r.Apply(ctx, nowpayments("ord_1", "expired", order.StatusFailed))
		require.NoError(t, err)
		res, err := f.r.Apply(ctx, nowpayments("ord_1", "refunded", order.StatusFailed))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultFailed, res.Outcome)

		res, err = f.r.Apply(ctx, nowpayments("ord_1", "finished", order.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultNoop, res.Outcome)
		assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_1"))
	})

	t.Run("expired then finished", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.seed(t, "ord_1", order.StatusPending)

		_, err := f.r.Apply(ctx, nowpayments("ord_1", "expired", order.StatusFailed))
		require.NoError(t, err)
		o, err := f.orders.GetByOrderNo(ctx, "ord_1")
		require.NoError(t, err)
		assert.False(t, o.FailedByRefund())

		res, err := f.r.Apply(ctx, nowpayments("ord_1", "finished", order.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, notification.ResultCredited, res.Outcome)
		assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
		assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))
		f.waitNotified(t)
	})
}

func TestApplyNOWPaymentsSequence(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)
	ctx := context.Background()

	step := func(raw string, status order.Status) *Result {
		res, err := f.r.Apply(ctx, &types.Notification{
			Provider:              types.ProviderNOWPayments,
			OrderNo:               "ord_1",
			ProviderSessionID:     "inv_1",
			ProviderTransactionID: "5077125051",
			RawStatus:             raw,
			Status:                status,
			Amount:                999,
			Currency:              "usd",
		})
		require.NoError(t, err, raw)
		return res
	}

	res := step("waiting", order.StatusPending)
	assert.Equal(t, notification.ResultNoop, res.Outcome)
	assert.Equal(t, order.StatusPending, f.status(t, "ord_1"))

	res = step("confirming", order.StatusProcessing)
	assert.Equal(t, notification.ResultIntermediate, res.Outcome)
	assert.Equal(t, order.StatusProcessing, f.status(t, "ord_1"))

	res = step("confirmed", order.StatusProcessing)
	assert.Equal(t, notification.ResultNoop, res.Outcome)

	res = step("finished", order.StatusPaid)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	f.waitNotified(t)

	// 迟到的中间状态不会让订单回退
	res = step("sending", order.StatusProcessing)
	assert.Equal(t, notification.ResultNoop, res.Outcome)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_1"))

	o, err := f.orders.GetByOrderNo(ctx, "ord_1")
	require.NoError(t, err)
	require.NotNil(t, o.ProviderSessionID)
	assert.Equal(t, "inv_1", *o.ProviderSessionID)
}

func TestApplyPartiallyPaid(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)

	res, err := f.r.Apply(context.Background(), &types.Notification{
		Provider: types.ProviderNOWPayments, OrderNo: "ord_1", RawStatus: "partially_paid", Status: order.StatusPartiallyPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, notification.ResultIntermediate, res.Outcome)
	assert.Equal(t, order.StatusPartiallyPaid, f.status(t, "ord_1"))
	assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_1"))
}

func TestApplyResolvesBySessionAndTransaction(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	f.seed(t, "ord_1", order.StatusCreated)
	require.NoError(t, f.orders.UpdateSessionID(ctx, "ord_1", "inv_1"))
	f.seed(t, "ord_2", order.StatusPending)
	applied, err := f.orders.TransitionStatus(ctx, "ord_2", order.TransitionSources(order.StatusProcessing), order.StatusProcessing,
		map[string]interface{}{"provider_transaction_id": "tx_2"})
	require.NoError(t, err)
	require.True(t, applied)

	n := paidNotification("")
	n.ProviderSessionID = "inv_1"
	n.ProviderTransactionID = ""
	res, err := f.r.Apply(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "ord_1", res.OrderNo)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	f.waitNotified(t)

	n = paidNotification("")
	n.ProviderSessionID = ""
	n.ProviderTransactionID = "tx_2"
	res, err = f.r.Apply(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "ord_2", res.OrderNo)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	f.waitNotified(t)
}

func TestApplyUnknownOrder(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.r.Apply(ctx, paidNotification("ord_missing"))
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	require.NotNil(t, res)
	assert.Equal(t, notification.ResultNotFound, res.Outcome)
	assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_missing"))

	logs, err := repositories.NewNotificationRepository(f.db).ListByOrderNo(ctx, "ord_missing")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, notification.ResultNotFound, logs[0].Result)
	assert.NotEmpty(t, logs[0].Error)
}

func TestApplyAmountMismatch(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)

	n := paidNotification("ord_1")
	n.Amount = 1
	res, err := f.r.Apply(context.Background(), n)
	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.Equal(t, notification.ResultMismatch, res.Outcome)
	assert.Equal(t, order.StatusPending, f.status(t, "ord_1"))

	n = paidNotification("ord_1")
	n.Currency = "eur"
	_, err = f.r.Apply(context.Background(), n)
	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_1"))

	// 未携带金额的回调不做比较
	n = paidNotification("ord_1")
	n.Amount = 0
	n.Currency = ""
	res, err = f.r.Apply(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	f.waitNotified(t)
}

func TestApplyIgnoredAndMalformed(t *testing.T) {
	f := newReconcileFixture(t)
	f.seed(t, "ord_1", order.StatusPending)

	res, err := f.r.Apply(context.Background(), &types.Notification{Provider: types.ProviderStripe, OrderNo: "ord_1", RawStatus: "customer.created", Ignored: true})
	require.NoError(t, err)
	assert.Equal(t, notification.ResultIgnored, res.Outcome)
	assert.Equal(t, order.StatusPending, f.status(t, "ord_1"))

	_, err = f.r.Apply(context.Background(), &types.Notification{Provider: types.ProviderStripe, OrderNo: "ord_1", Status: "refunded"})
	assert.True(t, errors.Is(err, types.ErrMalformedPayload))

	_, err = f.r.Apply(context.Background(), nil)
	assert.True(t, errors.Is(err, types.ErrMalformedPayload))
}

func TestApplyZeroCreditOrder(t *testing.T) {
	f := newReconcileFixture(t)
	o := &order.Order{
		OrderNo: "ord_sub", UserID: "user_1", Amount: 999, Currency: "usd", Credits: 0, Status: order.StatusPending,
	}
	require.NoError(t, f.orders.Create(context.Background(), o))

	res, err := f.r.Apply(context.Background(), paidNotification("ord_sub"))
	require.NoError(t, err)
	assert.Equal(t, notification.ResultCredited, res.Outcome)
	assert.Equal(t, order.StatusPaid, f.status(t, "ord_sub"))
	assert.Equal(t, int64(0), f.ledgerEntries(t, "ord_sub"))
	f.waitNotified(t)
}

func TestApplyGrantsWithOrderExpiry(t *testing.T) {
	f := newReconcileFixture(t)
	expiry := time.Now().Add(-time.Hour).UTC()
	o := &order.Order{
		OrderNo: "ord_old", UserID: "user_1", Amount: 999, Currency: "usd", Credits: 100, Status: order.StatusPending, ExpiredAt: &expiry,
	}
	require.NoError(t, f.orders.Create(context.Background(), o))

	_, err := f.r.Apply(context.Background(), paidNotification("ord_old"))
	require.NoError(t, err)
	f.waitNotified(t)

	assert.Equal(t, int64(1), f.ledgerEntries(t, "ord_old"))
	// 权益已过期的流水不计入余额
	assert.Equal(t, int64(0), f.balance(t))
}

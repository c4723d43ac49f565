package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	persistence "github.com/wyfcoding/spotexchange/internal/account/infrastructure/persistence/mysql"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/internal/referencedata/infrastructure/persistence/memory"
	"github.com/wyfcoding/spotexchange/pkg/db/dbtest"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

type published struct {
	topic string
	key   string
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key})
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type stubDispatcher struct {
	err  error
	sent []uint64
}

func (d *stubDispatcher) Dispatch(_ context.Context, w *domain.Withdraw) error {
	d.sent = append(d.sent, w.ID)
	return d.err
}

type fixture struct {
	ledger     *LedgerService
	withdraws  *WithdrawService
	deposits   *DepositService
	ops        domain.OperationRepository
	publisher  *recordingPublisher
	dispatcher *stubDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t, persistence.Models()...)

	refs := memory.New(
		[]*refdata.Currency{
			{
				ID: "btc", Type: refdata.CurrencyTypeCoin, Precision: 8,
				WithdrawFee:      money.MustParse("0.0005"),
				DepositFee:       money.MustParse("0.001"),
				WithdrawLimit24h: money.MustParse("2"),
				WithdrawLimit72h: money.MustParse("5"),
			},
			{ID: "usd", Type: refdata.CurrencyTypeFiat, Precision: 2, WithdrawFee: money.MustParse("1")},
		},
		nil,
	)

	ops := persistence.NewOperationRepository(d.DB)
	ledger := NewLedgerService(d, persistence.NewAccountRepository(d.DB), ops)
	pub := &recordingPublisher{}
	disp := &stubDispatcher{}
	return &fixture{
		ledger:     ledger,
		withdraws:  NewWithdrawService(d, ledger, persistence.NewWithdrawRepository(d.DB), refs, pub, disp, nil),
		deposits:   NewDepositService(d, ledger, persistence.NewDepositRepository(d.DB), refs, pub),
		ops:        ops,
		publisher:  pub,
		dispatcher: disp,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func TestLedger_FundOperationsReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.PlusFunds(ctx, 1, "usd", dec("100"), domain.DepositRef(1)))
	require.NoError(t, f.ledger.LockFunds(ctx, 1, "usd", dec("30"), domain.OrderRef(7)))
	require.NoError(t, f.ledger.UnlockAndSubFunds(ctx, 1, "usd", dec("10"), domain.TradeRef(3)))
	require.NoError(t, f.ledger.UnlockFunds(ctx, 1, "usd", dec("5"), domain.OrderRef(7)))
	require.NoError(t, f.ledger.LockFunds(ctx, 1, "usd", decimal.Zero, domain.OrderRef(8)))

	acc, err := f.ledger.Balance(ctx, 1, "usd")
	require.NoError(t, err)
	assertDec(t, "75", acc.Balance)
	assertDec(t, "15", acc.Locked)
	require.NoError(t, f.ledger.Reconcile(ctx, 1, "usd"))

	ops, err := f.ops.ListByReference(ctx, domain.OrderRef(7))
	require.NoError(t, err)
	assert.Len(t, ops, 4)

	zero, err := f.ops.ListByReference(ctx, domain.OrderRef(8))
	require.NoError(t, err)
	assert.Empty(t, zero)
}

func TestLedger_OverdrawIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.PlusFunds(ctx, 2, "usd", dec("10"), domain.DepositRef(1)))

	err := f.ledger.LockFunds(ctx, 2, "usd", dec("10.01"), domain.OrderRef(9))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	err = f.ledger.UnlockFunds(ctx, 2, "usd", dec("1"), domain.OrderRef(9))
	assert.ErrorIs(t, err, domain.ErrInsufficientLocked)
	err = f.ledger.PlusFunds(ctx, 2, "usd", dec("-1"), domain.OrderRef(9))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	ops, err := f.ops.ListByReference(ctx, domain.OrderRef(9))
	require.NoError(t, err)
	assert.Empty(t, ops)

	acc, err := f.ledger.Balance(ctx, 2, "usd")
	require.NoError(t, err)
	assertDec(t, "10", acc.Balance)
	assert.True(t, acc.Locked.IsZero())
	require.NoError(t, f.ledger.Reconcile(ctx, 2, "usd"))
}

func TestLedger_BalanceOfUnknownAccount(t *testing.T) {
	f := newFixture(t)
	acc, err := f.ledger.Balance(context.Background(), 99, "btc")
	require.NoError(t, err)
	assert.True(t, acc.Total().IsZero())
}

func TestWithdraw_QuickLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 3, "btc", dec("10"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 3, Currency: "btc", Sum: dec("1.123456789"), RID: "bc1qaddr"})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawSubmitted, w.State)
	assertDec(t, "1.12345678", w.Sum)
	assertDec(t, "0.0005", w.Fee)
	assertDec(t, "1.12295678", w.Amount)

	acc, err := f.ledger.Balance(ctx, 3, "btc")
	require.NoError(t, err)
	assertDec(t, "8.87654322", acc.Balance)
	assertDec(t, "1.12345678", acc.Locked)

	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawProcessing, w.State)
	assert.Equal(t, []uint64{w.ID}, f.dispatcher.sent)

	require.NoError(t, f.withdraws.HandlePayoutResult(ctx, domain.PayoutResult{WithdrawID: w.ID, Status: domain.PayoutSucceed, TxID: "0xabc"}))

	w, err = f.withdraws.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawSucceed, w.State)
	assert.Equal(t, "0xabc", w.TxID)
	assert.NotNil(t, w.CompletedAt)

	acc, err = f.ledger.Balance(ctx, 3, "btc")
	require.NoError(t, err)
	assertDec(t, "8.87654322", acc.Balance)
	assert.True(t, acc.Locked.IsZero())
	require.NoError(t, f.ledger.Reconcile(ctx, 3, "btc"))

	ops, err := f.ops.ListByReference(ctx, domain.WithdrawRef(w.ID))
	require.NoError(t, err)
	byCode := map[domain.OperationCode]decimal.Decimal{}
	for _, op := range ops {
		byCode[op.Code] = byCode[op.Code].Add(op.Net())
	}
	assertDec(t, "0.0005", byCode[domain.CodeRevenue])
	assertDec(t, "-1.12295678", byCode[domain.CodeAsset])
	assertDec(t, "-1.12345678", byCode[domain.CodeLiability])

	// 重复回执
	require.NoError(t, f.withdraws.HandlePayoutResult(ctx, domain.PayoutResult{WithdrawID: w.ID, Status: domain.PayoutFailed}))
	assert.Equal(t, 5, f.publisher.count(domain.TopicWithdraw))
}

func TestWithdraw_OverLimitStaysAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 4, "btc", dec("10"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 4, Currency: "btc", Sum: dec("2.5"), RID: "bc1q"})
	require.NoError(t, err)

	quick, err := f.withdraws.IsQuick(ctx, w)
	require.NoError(t, err)
	assert.False(t, quick)

	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawAccepted, w.State)
	assert.Empty(t, f.dispatcher.sent)

	w, err = f.withdraws.Reject(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawRejected, w.State)

	acc, err := f.ledger.Balance(ctx, 4, "btc")
	require.NoError(t, err)
	assertDec(t, "10", acc.Balance)
	assert.True(t, acc.Locked.IsZero())
}

func TestWithdraw_FiatAuditNeverProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 5, "usd", dec("50"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 5, Currency: "usd", Sum: dec("20.129"), RID: "iban"})
	require.NoError(t, err)
	assertDec(t, "20.12", w.Sum)

	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawAccepted, w.State)
}

func TestWithdraw_DispatchErrorFails(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("broker down")
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 6, "btc", dec("1"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 6, Currency: "btc", Sum: dec("0.5"), RID: "bc1q"})
	require.NoError(t, err)
	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawFailed, w.State)

	acc, err := f.ledger.Balance(ctx, 6, "btc")
	require.NoError(t, err)
	assertDec(t, "1", acc.Balance)
	assert.True(t, acc.Locked.IsZero())
}

func TestWithdraw_SeventyTwoHourWindowDecides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 8, "btc", dec("10"), domain.DepositRef(1)))

	// 人工审核出款的大额提现，计入 72 小时额度
	prior, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 8, Currency: "btc", Sum: dec("4"), RID: "bc1q"})
	require.NoError(t, err)
	_, err = f.withdraws.Accept(ctx, prior.ID)
	require.NoError(t, err)
	_, err = f.withdraws.Process(ctx, prior.ID)
	require.NoError(t, err)

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 8, Currency: "btc", Sum: dec("1.5"), RID: "bc1q"})
	require.NoError(t, err)

	// 30 小时后：前一笔已出 24 小时窗口，仍在 72 小时窗口内
	start := time.Now()
	f.withdraws.now = func() time.Time { return start.Add(30 * time.Hour) }
	quick, err := f.withdraws.IsQuick(ctx, w)
	require.NoError(t, err)
	assert.False(t, quick)

	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawAccepted, w.State)
	assert.Equal(t, []uint64{prior.ID}, f.dispatcher.sent)

	// 80 小时后两个窗口都不再包含前一笔
	f.withdraws.now = func() time.Time { return start.Add(80 * time.Hour) }
	quick, err = f.withdraws.IsQuick(ctx, w)
	require.NoError(t, err)
	assert.True(t, quick)
}

type committedStateDispatcher struct {
	withdraws *WithdrawService
	seen      []domain.WithdrawState
}

func (d *committedStateDispatcher) Dispatch(ctx context.Context, w *domain.Withdraw) error {
	stored, err := d.withdraws.Get(ctx, w.ID)
	if err != nil {
		return err
	}
	d.seen = append(d.seen, stored.State)
	return nil
}

func TestWithdraw_AuditDispatchesAfterCommit(t *testing.T) {
	f := newFixture(t)
	disp := &committedStateDispatcher{withdraws: f.withdraws}
	f.withdraws.dispatcher = disp
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 9, "btc", dec("1"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 9, Currency: "btc", Sum: dec("0.5"), RID: "bc1q"})
	require.NoError(t, err)
	before := f.publisher.count(domain.TopicWithdraw)

	w, err = f.withdraws.Audit(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawProcessing, w.State)
	// 出款方读到的是已提交的 processing，而不是中间的 accepted
	assert.Equal(t, []domain.WithdrawState{domain.WithdrawProcessing}, disp.seen)
	assert.Equal(t, before+2, f.publisher.count(domain.TopicWithdraw))
}

func TestWithdraw_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 7, Currency: "btc", Sum: dec("1"), RID: "bc1q"})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	list, err := f.withdraws.List(ctx, 7, "btc", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithdraw_DraftSubmitAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.PlusFunds(ctx, 8, "btc", dec("1"), domain.DepositRef(1)))

	w, err := f.withdraws.CreateWithdraw(ctx, CreateWithdrawCommand{MemberID: 8, Currency: "btc", Sum: dec("0.4"), RID: "bc1q", Draft: true})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawPrepared, w.State)

	_, err = f.withdraws.Succeed(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	w, err = f.withdraws.Submit(ctx, w.ID)
	require.NoError(t, err)
	acc, err := f.ledger.Balance(ctx, 8, "btc")
	require.NoError(t, err)
	assertDec(t, "0.4", acc.Locked)

	w, err = f.withdraws.Cancel(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawCanceled, w.State)
	acc, err = f.ledger.Balance(ctx, 8, "btc")
	require.NoError(t, err)
	assertDec(t, "1", acc.Balance)
	require.NoError(t, f.ledger.Reconcile(ctx, 8, "btc"))
}

func TestDeposit_AcceptAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := CreateDepositCommand{MemberID: 9, Currency: "btc", Amount: dec("1"), Address: "bc1qdeposit", TxID: "tx-1", TxOut: 0}
	d, err := f.deposits.CreateDeposit(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositSubmitted, d.State)
	assertDec(t, "0.999", d.Amount)

	_, err = f.deposits.CreateDeposit(ctx, cmd)
	assert.ErrorIs(t, err, domain.ErrDuplicateDeposit)

	d, err = f.deposits.Accept(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositAccepted, d.State)

	acc, err := f.ledger.Balance(ctx, 9, "btc")
	require.NoError(t, err)
	assertDec(t, "0.999", acc.Balance)
	require.NoError(t, f.ledger.Reconcile(ctx, 9, "btc"))

	ops, err := f.ops.ListByReference(ctx, domain.DepositRef(d.ID))
	require.NoError(t, err)
	require.Len(t, ops, 3)
	total := decimal.Zero
	for _, op := range ops {
		if op.Code == domain.CodeAsset {
			assertDec(t, "1", op.Net())
			continue
		}
		total = total.Add(op.Net())
	}
	// 负债 + 收入 = 资产
	assertDec(t, "1", total)

	_, err = f.deposits.Accept(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	d, err = f.deposits.Collect(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositCollected, d.State)
	assert.Equal(t, 3, f.publisher.count(domain.TopicDeposit))
}

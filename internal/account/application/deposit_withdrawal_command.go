package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/metrics"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

// quickStates 计入免审额度的提现状态
var quickStates = []domain.WithdrawState{domain.WithdrawProcessing, domain.WithdrawConfirming, domain.WithdrawSucceed}

// CreateWithdrawCommand 提现申请
type CreateWithdrawCommand struct {
	MemberID uint64
	Currency string
	Sum      decimal.Decimal
	RID      string
	// Draft 为 true 时只保存 prepared 状态，不冻结资金
	Draft bool
}

// WithdrawService 提现流程
// 状态迁移与其资金副作用在同一事务内完成，事件与出款指令在提交后发出。
type WithdrawService struct {
	tx         db.TxManager
	ledger     *LedgerService
	withdraws  domain.WithdrawRepository
	refs       refdata.Repository
	publisher  mq.Publisher
	dispatcher domain.PayoutDispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewWithdrawService 创建提现服务；m 可以为 nil
func NewWithdrawService(
	tx db.TxManager,
	ledger *LedgerService,
	withdraws domain.WithdrawRepository,
	refs refdata.Repository,
	publisher mq.Publisher,
	dispatcher domain.PayoutDispatcher,
	m *metrics.Metrics,
) *WithdrawService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	return &WithdrawService{
		tx:         tx,
		ledger:     ledger,
		withdraws:  withdraws,
		refs:       refs,
		publisher:  publisher,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.Module("withdraw"),
		now:        time.Now,
	}
}

// CreateWithdraw 创建提现单，金额按币种精度截断，手续费取币种配置
func (s *WithdrawService) CreateWithdraw(ctx context.Context, cmd CreateWithdrawCommand) (*domain.Withdraw, error) {
	currency, err := s.refs.GetCurrency(cmd.Currency)
	if err != nil {
		return nil, err
	}
	w, err := domain.NewWithdraw(cmd.MemberID, currency.ID, currency.Round(cmd.Sum), currency.WithdrawFee, cmd.RID)
	if err != nil {
		return nil, err
	}

	var actions []domain.Action
	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.withdraws.Save(txCtx, w); err != nil {
			return err
		}
		if cmd.Draft {
			return nil
		}
		actions, err = w.Fire(txCtx, domain.WithdrawSubmit)
		if err != nil {
			return err
		}
		if err := s.execute(txCtx, w, actions); err != nil {
			return err
		}
		return s.withdraws.Save(txCtx, w)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to create withdraw", "member_id", cmd.MemberID, "currency", cmd.Currency, "sum", cmd.Sum.String(), "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdraw created", "withdraw_id", w.ID, "tid", w.TID, "state", w.State, "sum", w.Sum.String())
	if !cmd.Draft {
		s.afterCommit(ctx, w, domain.WithdrawSubmit, actions)
	}
	return w, nil
}

// Submit 提交草稿，冻结 sum
func (s *WithdrawService) Submit(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawSubmit, nil)
}

// Cancel 用户撤销
func (s *WithdrawService) Cancel(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawCancel, nil)
}

// Accept 审核通过
func (s *WithdrawService) Accept(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawAccept, nil)
}

// Reject 审核拒绝
func (s *WithdrawService) Reject(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawReject, nil)
}

// Suspect 标记可疑，资金解冻
func (s *WithdrawService) Suspect(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawSuspect, nil)
}

// Process 进入出款
func (s *WithdrawService) Process(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawProcess, nil)
}

// Dispatch 出款交易已广播
func (s *WithdrawService) Dispatch(ctx context.Context, id uint64, txid string) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawDispatch, func(w *domain.Withdraw) {
		if txid != "" {
			w.TxID = txid
		}
	})
}

// Succeed 出款确认，扣除冻结并记账
func (s *WithdrawService) Succeed(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawSuccess, nil)
}

// Fail 出款失败，资金解冻
func (s *WithdrawService) Fail(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.transition(ctx, id, domain.WithdrawFail, nil)
}

// Audit 审核：同一事务内先通过，再对链上币种且在免审额度内的提现直接进入出款，提交后再交给出款方
func (s *WithdrawService) Audit(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	var (
		w         *domain.Withdraw
		accepted  domain.Withdraw
		processed []domain.Action
		quick     bool
	)
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		if w, err = s.withdraws.GetForUpdate(txCtx, id); err != nil {
			return err
		}
		actions, err := w.Fire(txCtx, domain.WithdrawAccept)
		if err != nil {
			return err
		}
		if err := s.execute(txCtx, w, actions); err != nil {
			return err
		}
		accepted = *w

		currency, err := s.refs.GetCurrency(w.Currency)
		if err != nil {
			return err
		}
		if currency.IsCoin() {
			if quick, err = s.IsQuick(txCtx, w); err != nil {
				return err
			}
		}
		if quick {
			if processed, err = w.Fire(txCtx, domain.WithdrawProcess); err != nil {
				return err
			}
			if err := s.execute(txCtx, w, processed); err != nil {
				return err
			}
		}
		return s.withdraws.Save(txCtx, w)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "withdraw audit failed", "withdraw_id", id, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdraw audited", "withdraw_id", w.ID, "state", w.State, "quick", quick)
	_ = s.afterCommit(ctx, &accepted, domain.WithdrawAccept, nil)
	if !quick {
		s.logger.InfoContext(ctx, "withdraw needs manual processing", "withdraw_id", w.ID, "sum", w.Sum.String())
		return w, nil
	}
	if dispatchErr := s.afterCommit(ctx, w, domain.WithdrawProcess, processed); dispatchErr != nil {
		s.logger.ErrorContext(ctx, "failed to dispatch payout", "withdraw_id", w.ID, "error", dispatchErr)
		return s.transition(ctx, id, domain.WithdrawFail, nil)
	}
	return w, nil
}

// IsQuick 近 24 小时与 72 小时已出款总额加上本笔均不超过币种额度
func (s *WithdrawService) IsQuick(ctx context.Context, w *domain.Withdraw) (bool, error) {
	currency, err := s.refs.GetCurrency(w.Currency)
	if err != nil {
		return false, err
	}
	now := s.now()
	windows := []struct {
		span  time.Duration
		limit decimal.Decimal
	}{
		{24 * time.Hour, currency.WithdrawLimit24h},
		{72 * time.Hour, currency.WithdrawLimit72h},
	}
	for _, win := range windows {
		used, err := s.withdraws.SumSince(ctx, w.MemberID, w.Currency, quickStates, now.Add(-win.span))
		if err != nil {
			return false, err
		}
		if used.Add(w.Sum).GreaterThan(win.limit) {
			return false, nil
		}
	}
	return true, nil
}

// Get 查询提现单
func (s *WithdrawService) Get(ctx context.Context, id uint64) (*domain.Withdraw, error) {
	return s.withdraws.Get(ctx, id)
}

// List 会员提现记录
func (s *WithdrawService) List(ctx context.Context, memberID uint64, currency string, limit int) ([]*domain.Withdraw, error) {
	return s.withdraws.ListByMember(ctx, memberID, currency, limit)
}

func (s *WithdrawService) transition(ctx context.Context, id uint64, event domain.WithdrawEvent, mutate func(*domain.Withdraw)) (*domain.Withdraw, error) {
	var (
		w       *domain.Withdraw
		actions []domain.Action
	)
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		if w, err = s.withdraws.GetForUpdate(txCtx, id); err != nil {
			return err
		}
		if actions, err = w.Fire(txCtx, event); err != nil {
			return err
		}
		if mutate != nil {
			mutate(w)
		}
		if err := s.execute(txCtx, w, actions); err != nil {
			return err
		}
		return s.withdraws.Save(txCtx, w)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "withdraw transition failed", "withdraw_id", id, "event", event, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdraw transitioned", "withdraw_id", w.ID, "event", event, "state", w.State)
	if dispatchErr := s.afterCommit(ctx, w, event, actions); dispatchErr != nil {
		s.logger.ErrorContext(ctx, "failed to dispatch payout", "withdraw_id", w.ID, "error", dispatchErr)
		return s.transition(ctx, id, domain.WithdrawFail, nil)
	}
	return w, nil
}

func (s *WithdrawService) execute(ctx context.Context, w *domain.Withdraw, actions []domain.Action) error {
	ref := domain.WithdrawRef(w.ID)
	for _, action := range actions {
		var err error
		switch action {
		case domain.ActionLockFunds:
			err = s.ledger.LockFunds(ctx, w.MemberID, w.Currency, w.Sum, ref)
		case domain.ActionUnlockFunds:
			err = s.ledger.UnlockFunds(ctx, w.MemberID, w.Currency, w.Sum, ref)
		case domain.ActionSubLocked:
			err = s.ledger.UnlockAndSubFunds(ctx, w.MemberID, w.Currency, w.Sum, ref)
		case domain.ActionCreditRevenue:
			err = s.ledger.CreditRevenue(ctx, w.Currency, w.Fee, ref)
		case domain.ActionCreditAsset:
			err = s.ledger.CreditAsset(ctx, w.Currency, w.Amount, ref)
		case domain.ActionDispatchPayout:
			// 提交后执行
		default:
			err = fmt.Errorf("unsupported withdraw action %s", action)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// afterCommit 发布状态事件；包含出款动作时把提现交给出款方，返回出款错误
func (s *WithdrawService) afterCommit(ctx context.Context, w *domain.Withdraw, event domain.WithdrawEvent, actions []domain.Action) error {
	if s.metrics != nil {
		s.metrics.WithdrawTransitions.WithLabelValues(w.Currency, string(event)).Inc()
	}
	evt := domain.WithdrawUpdatedEvent{
		Type:       "withdraw_updated",
		Event:      event,
		Withdraw:   w,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, domain.TopicWithdraw, w.TID, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish withdraw event", "withdraw_id", w.ID, "error", err)
	}
	if !slices.Contains(actions, domain.ActionDispatchPayout) || s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Dispatch(ctx, w)
}

// HandlePayoutResult 处理出款方回传的结果；重复或过期的结果直接忽略
func (s *WithdrawService) HandlePayoutResult(ctx context.Context, res domain.PayoutResult) error {
	var err error
	switch res.Status {
	case domain.PayoutDispatched:
		_, err = s.Dispatch(ctx, res.WithdrawID, res.TxID)
	case domain.PayoutSucceed:
		w, getErr := s.withdraws.Get(ctx, res.WithdrawID)
		if getErr != nil {
			return getErr
		}
		if w.State == domain.WithdrawProcessing {
			if _, err = s.Dispatch(ctx, res.WithdrawID, res.TxID); err != nil {
				break
			}
		}
		_, err = s.Succeed(ctx, res.WithdrawID)
	case domain.PayoutFailed:
		s.logger.WarnContext(ctx, "payout failed", "withdraw_id", res.WithdrawID, "reason", res.Reason)
		_, err = s.Fail(ctx, res.WithdrawID)
	default:
		return fmt.Errorf("unknown payout status %q", res.Status)
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.InfoContext(ctx, "ignoring stale payout result", "withdraw_id", res.WithdrawID, "status", res.Status)
		return nil
	}
	return err
}

// CreateDepositCommand 链上到账通知
type CreateDepositCommand struct {
	MemberID uint64
	Currency string
	// 到账总额，含手续费
	Amount  decimal.Decimal
	Address string
	TxID    string
	TxOut   int
}

// DepositService 充值流程
type DepositService struct {
	tx        db.TxManager
	ledger    *LedgerService
	deposits  domain.DepositRepository
	refs      refdata.Repository
	publisher mq.Publisher
	logger    *slog.Logger
}

// NewDepositService 创建充值服务
func NewDepositService(tx db.TxManager, ledger *LedgerService, deposits domain.DepositRepository, refs refdata.Repository, publisher mq.Publisher) *DepositService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	return &DepositService{
		tx:        tx,
		ledger:    ledger,
		deposits:  deposits,
		refs:      refs,
		publisher: publisher,
		logger:    logger.Module("deposit"),
	}
}

// CreateDeposit 登记到账；同一币种的 txid/txout 只能登记一次
func (s *DepositService) CreateDeposit(ctx context.Context, cmd CreateDepositCommand) (*domain.Deposit, error) {
	currency, err := s.refs.GetCurrency(cmd.Currency)
	if err != nil {
		return nil, err
	}
	d, err := domain.NewDeposit(cmd.MemberID, currency.ID, currency.Round(cmd.Amount), currency.DepositFee, cmd.Address, cmd.TxID, cmd.TxOut)
	if err != nil {
		return nil, err
	}
	existing, err := s.deposits.FindByTx(ctx, currency.ID, cmd.TxID, cmd.TxOut)
	switch {
	case err == nil:
		return existing, fmt.Errorf("%w: %s:%d", domain.ErrDuplicateDeposit, existing.TxID, existing.TxOut)
	case !errors.Is(err, domain.ErrDepositNotFound):
		return nil, err
	}
	if err := s.deposits.Save(ctx, d); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "deposit created", "deposit_id", d.ID, "txid", d.TxID, "amount", d.Amount.String())
	s.publish(ctx, d, "")
	return d, nil
}

// Accept 确认到账：会员可用余额增加，托管资产与手续费收入同时入账
func (s *DepositService) Accept(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return s.transition(ctx, id, domain.DepositAccept)
}

// Reject 拒绝入账
func (s *DepositService) Reject(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return s.transition(ctx, id, domain.DepositReject)
}

// Cancel 撤销
func (s *DepositService) Cancel(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return s.transition(ctx, id, domain.DepositCancel)
}

// Collect 已归集到冷钱包
func (s *DepositService) Collect(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return s.transition(ctx, id, domain.DepositDispatch)
}

// Get 查询充值单
func (s *DepositService) Get(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return s.deposits.Get(ctx, id)
}

func (s *DepositService) transition(ctx context.Context, id uint64, event domain.DepositEvent) (*domain.Deposit, error) {
	var d *domain.Deposit
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		if d, err = s.deposits.GetForUpdate(txCtx, id); err != nil {
			return err
		}
		actions, err := d.Fire(txCtx, event)
		if err != nil {
			return err
		}
		ref := domain.DepositRef(d.ID)
		for _, action := range actions {
			switch action {
			case domain.ActionPlusFunds:
				err = s.ledger.PlusFunds(txCtx, d.MemberID, d.Currency, d.Amount, ref)
			case domain.ActionDebitAsset:
				err = s.ledger.DebitAsset(txCtx, d.Currency, d.Amount.Add(d.Fee), ref)
			case domain.ActionCreditRevenue:
				err = s.ledger.CreditRevenue(txCtx, d.Currency, d.Fee, ref)
			default:
				err = fmt.Errorf("unsupported deposit action %s", action)
			}
			if err != nil {
				return err
			}
		}
		return s.deposits.Save(txCtx, d)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "deposit transition failed", "deposit_id", id, "event", event, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "deposit transitioned", "deposit_id", d.ID, "event", event, "state", d.State)
	s.publish(ctx, d, event)
	return d, nil
}

func (s *DepositService) publish(ctx context.Context, d *domain.Deposit, event domain.DepositEvent) {
	evt := domain.DepositUpdatedEvent{
		Type:       "deposit_updated",
		Event:      event,
		Deposit:    d,
		OccurredAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, domain.TopicDeposit, d.TID, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish deposit event", "deposit_id", d.ID, "error", err)
	}
}

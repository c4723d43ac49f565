package domain

import "time"

const (
	// TopicWithdraw 提现状态变更
	TopicWithdraw = "exchange.withdraw"
	// TopicDeposit 充值状态变更
	TopicDeposit = "exchange.deposit"
	// TopicWithdrawProcess 交给外部钱包出款
	TopicWithdrawProcess = "withdraw.process"
)

// WithdrawUpdatedEvent 提现状态变更事件，携带变更后的完整快照
type WithdrawUpdatedEvent struct {
	Type       string        `json:"type"`
	Event      WithdrawEvent `json:"event"`
	Withdraw   *Withdraw     `json:"withdraw"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// DepositUpdatedEvent 充值状态变更事件
type DepositUpdatedEvent struct {
	Type       string       `json:"type"`
	Event      DepositEvent `json:"event"`
	Deposit    *Deposit     `json:"deposit"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// PayoutResult 外部钱包回传的出款结果
type PayoutResult struct {
	WithdrawID uint64 `json:"withdraw_id"`
	// dispatched: 已广播；succeed: 已确认；failed: 出款失败
	Status string `json:"status"`
	TxID   string `json:"txid"`
	Reason string `json:"reason,omitempty"`
}

const (
	PayoutDispatched = "dispatched"
	PayoutSucceed    = "succeed"
	PayoutFailed     = "failed"
)

// Package messaging 账户上下文的消息出口
package messaging

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

// PayoutRequest 发给钱包服务的出款指令
type PayoutRequest struct {
	WithdrawID uint64          `json:"withdraw_id"`
	TID        string          `json:"tid"`
	MemberID   uint64          `json:"member_id"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	RID        string          `json:"rid"`
}

// PayoutDispatcher 通过消息队列把出款指令交给钱包服务
type PayoutDispatcher struct {
	publisher mq.Publisher
	topic     string
}

// NewPayoutDispatcher topic 为空时使用 domain.TopicWithdrawProcess
func NewPayoutDispatcher(publisher mq.Publisher, topic string) *PayoutDispatcher {
	if topic == "" {
		topic = domain.TopicWithdrawProcess
	}
	return &PayoutDispatcher{publisher: publisher, topic: topic}
}

// Dispatch 以 TID 为 key 发布，同一提现始终落在同一分区
func (d *PayoutDispatcher) Dispatch(ctx context.Context, w *domain.Withdraw) error {
	return d.publisher.Publish(ctx, d.topic, w.TID, PayoutRequest{
		WithdrawID: w.ID,
		TID:        w.TID,
		MemberID:   w.MemberID,
		Currency:   w.Currency,
		Amount:     w.Amount,
		RID:        w.RID,
	})
}

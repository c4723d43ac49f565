// Package consumer 消费钱包服务回传的出款结果
package consumer

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/spotexchange/internal/account/application"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

// PayoutResultHandler 把出款结果转换为提现状态迁移
type PayoutResultHandler struct {
	withdraws *application.WithdrawService
	logger    *slog.Logger
}

func NewPayoutResultHandler(withdraws *application.WithdrawService, logger *slog.Logger) *PayoutResultHandler {
	return &PayoutResultHandler{withdraws: withdraws, logger: logger}
}

// Handle 解析失败的消息记录后跳过，避免阻塞分区
func (h *PayoutResultHandler) Handle(ctx context.Context, msg *mq.Message) error {
	var res domain.PayoutResult
	if err := msg.Decode(&res); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal payout result", "offset", msg.Offset, "error", err)
		return nil
	}
	if res.WithdrawID == 0 {
		h.logger.WarnContext(ctx, "payout result without withdraw id", "offset", msg.Offset)
		return nil
	}
	return h.withdraws.HandlePayoutResult(ctx, res)
}

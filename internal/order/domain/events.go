package domain

import "time"

// TopicOrder 订单事件主题，按市场分区
const TopicOrder = "exchange.order"

// 事件类型
const (
	EventOrderCreated   = "order_created"
	EventOrderUpdated   = "order_updated"
	EventOrderCanceled  = "order_canceled"
	EventOrderCompleted = "order_completed"
)

// OrderEvent 订单变更事件，携带变更后的完整快照
type OrderEvent struct {
	Type       string    `json:"type"`
	Market     string    `json:"market"`
	Order      *Order    `json:"order"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventTypeFor 根据订单当前状态选择事件类型
func EventTypeFor(o *Order) string {
	switch o.State {
	case StateCancel:
		return EventOrderCanceled
	case StateDone:
		return EventOrderCompleted
	default:
		return EventOrderUpdated
	}
}

// NewOrderEvent 以订单快照构造事件
func NewOrderEvent(eventType string, o *Order) OrderEvent {
	return OrderEvent{
		Type:       eventType,
		Market:     o.Market,
		Order:      o.Clone(),
		OccurredAt: time.Now(),
	}
}

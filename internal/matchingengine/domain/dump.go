package domain

import (
	"bufio"
	"io"
	"strings"

	order "github.com/wyfcoding/spotexchange/internal/order/domain"
)

// DumpFileName 限价订单簿诊断文件名
func DumpFileName(market string) string {
	return "limit_orderbook_" + market
}

// Dump 以可读文本输出订单簿：ASK、卖盘由高到低、分隔线、买盘由高到低、BID
// 每个档位先输出价格，再逐行输出 tab 缩进的 id/$price/volume。
func (b *OrderBook) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeLevels := func(s order.Side) {
		b.side(s).levels.Descend(func(l *PriceLevel) bool {
			bw.WriteString(l.Price.String() + "\n")
			for _, o := range l.Orders {
				bw.WriteString("\t" + o.Label() + "\n")
			}
			return true
		})
	}

	bw.WriteString("ASK\n")
	writeLevels(order.SideAsk)
	bw.WriteString(strings.Repeat("-", 40) + "\n")
	writeLevels(order.SideBid)
	bw.WriteString("BID\n")
	return bw.Flush()
}

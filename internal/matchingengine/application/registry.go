// Package application 撮合调度：每个市场一个 worker 串行执行命令，引擎按需创建并从数据库恢复
package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	order "github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/metrics"
)

// ReloadAll 重建全部市场
const ReloadAll = "all"

var (
	// ErrEngineReloading 市场正在重建，命令未执行，可重试
	ErrEngineReloading = errors.New("matching engine is reloading")
	// ErrRegistryClosed 进程退出中
	ErrRegistryClosed = errors.New("matching registry closed")
)

// Options 调度配置
type Options struct {
	// 每个市场的命令队列长度
	QueueSize int
	// 市价单滑点熔断
	Fuse decimal.Decimal
	// 为 true 时新引擎不回放活跃订单
	Fresh bool
	// 写入深度缓存的档位数
	DepthLevels int
}

type job struct {
	ctx    context.Context
	before uint64
	fn     func(ctx context.Context, e *domain.Engine) error
	stop   bool
	done   chan error
}

type worker struct {
	market string
	jobs   chan *job
	exited chan struct{}
	engine *domain.Engine
}

// Registry 市场到 worker 的映射
// 同一市场的 submit、cancel、estimate 等命令按到达顺序在该市场的 goroutine 中执行，市场之间互不影响。
type Registry struct {
	refs    refdata.Repository
	orders  order.Repository
	settler domain.Settler
	depths  domain.DepthRepository
	metrics *metrics.Metrics
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// NewRegistry 创建调度器；depths 可为 nil
func NewRegistry(
	refs refdata.Repository,
	orders order.Repository,
	settler domain.Settler,
	depths domain.DepthRepository,
	m *metrics.Metrics,
	opts Options,
) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.DepthLevels <= 0 {
		opts.DepthLevels = 50
	}
	return &Registry{
		refs:    refs,
		orders:  orders,
		settler: settler,
		depths:  depths,
		metrics: m,
		opts:    opts,
		logger:  logger.Module("matching"),
		workers: make(map[string]*worker),
	}
}

// Submit 把已持久化并冻结资金的订单送入撮合
// 执行前从仓储重新读取订单，已终结的订单直接返回。
func (r *Registry) Submit(ctx context.Context, o *order.Order) (*domain.SubmitResult, error) {
	var res *domain.SubmitResult
	err := r.do(ctx, o.Market, o.ID, func(ctx context.Context, e *domain.Engine) error {
		current, err := r.orders.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			res = &domain.SubmitResult{Order: current}
			return nil
		}
		res, err = e.Submit(ctx, current)
		if err != nil {
			return err
		}
		r.metrics.OrdersSubmitted.WithLabelValues(o.Market, string(o.Side)).Inc()
		r.metrics.TradesTotal.WithLabelValues(o.Market).Add(float64(len(res.Fills)))
		if res.Order.State == order.StateCancel {
			r.metrics.OrdersCanceled.WithLabelValues(o.Market).Inc()
		}
		return nil
	})
	return res, err
}

// Cancel 撤单，订单已终结或不在订单簿中时没有副作用
func (r *Registry) Cancel(ctx context.Context, market string, orderID uint64) (*order.Order, error) {
	var canceled *order.Order
	err := r.do(ctx, market, 0, func(ctx context.Context, e *domain.Engine) error {
		o, err := e.Cancel(ctx, orderID)
		if err != nil {
			return err
		}
		canceled = o
		r.metrics.OrdersCanceled.WithLabelValues(market).Inc()
		return nil
	})
	return canceled, err
}

// Estimate 市价单所需冻结，见 Engine.Estimate
func (r *Registry) Estimate(ctx context.Context, market string, side order.Side, volume decimal.Decimal) (decimal.Decimal, error) {
	required := decimal.Zero
	err := r.do(ctx, market, 0, func(_ context.Context, e *domain.Engine) error {
		v, err := e.Estimate(side, volume)
		required = v
		return err
	})
	return required, err
}

// Depth 订单簿深度
// 缓存中的快照足够时直接返回，避免占用撮合队列。
func (r *Registry) Depth(ctx context.Context, market string, limit int) (*domain.Depth, error) {
	if r.depths != nil && limit > 0 && limit <= r.opts.DepthLevels {
		cached, err := r.depths.Get(ctx, market)
		if err == nil {
			return trimDepth(cached, limit), nil
		}
		if !errors.Is(err, domain.ErrDepthNotFound) {
			r.logger.WarnContext(ctx, "failed to read cached depth", "market", market, "error", err)
		}
	}

	var depth *domain.Depth
	err := r.do(ctx, market, 0, func(_ context.Context, e *domain.Engine) error {
		depth = e.Book().Depth(limit)
		return nil
	})
	return depth, err
}

// Dump 把订单簿写入 dir 下的诊断文件，返回文件路径
func (r *Registry) Dump(ctx context.Context, market, dir string) (string, error) {
	var buf bytes.Buffer
	err := r.do(ctx, market, 0, func(_ context.Context, e *domain.Engine) error {
		return e.Book().Dump(&buf)
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump dir: %w", err)
	}
	path := filepath.Join(dir, domain.DumpFileName(market))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write dump for %s: %w", market, err)
	}
	r.logger.InfoContext(ctx, "order book dumped", "market", market, "path", path)
	return path, nil
}

// DumpAll 输出所有运行中的市场
func (r *Registry) DumpAll(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	var errs []error
	for _, market := range r.Running() {
		path, err := r.Dump(ctx, market, dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}

// Reload 丢弃市场的内存状态并从数据库重建；market 为 all 时重建全部运行中的市场
// 停机的引擎只能通过 reload 恢复。
func (r *Registry) Reload(ctx context.Context, market string) error {
	var targets []*worker
	r.mu.Lock()
	if market == ReloadAll {
		for _, w := range r.workers {
			targets = append(targets, w)
		}
	} else if w, ok := r.workers[market]; ok {
		targets = append(targets, w)
	}
	r.mu.Unlock()

	if market != ReloadAll {
		if _, err := r.refs.GetMarket(market); err != nil {
			return err
		}
	}

	var errs []error
	for _, w := range targets {
		if err := r.stop(ctx, w); err != nil {
			errs = append(errs, err)
			continue
		}
		// 立即重建，缓存中的深度随之刷新
		if err := r.do(ctx, w.market, 0, func(context.Context, *domain.Engine) error { return nil }); err != nil {
			errs = append(errs, fmt.Errorf("failed to rebuild %s: %w", w.market, err))
			continue
		}
		r.logger.InfoContext(ctx, "matching engine reloaded", "market", w.market)
	}
	return errors.Join(errs...)
}

// Running 已创建引擎的市场，按名称排序
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	markets := make([]string, 0, len(r.workers))
	for m := range r.workers {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	return markets
}

// Close 等待队列中的命令执行完毕后停止全部 worker
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	targets := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		targets = append(targets, w)
	}
	r.mu.Unlock()

	var errs []error
	for _, w := range targets {
		if err := r.stop(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) do(ctx context.Context, market string, before uint64, fn func(context.Context, *domain.Engine) error) error {
	w, err := r.worker(market)
	if err != nil {
		return err
	}
	// 命令一旦入队就必须执行完，调用方取消不能中断结算
	j := &job{ctx: context.WithoutCancel(ctx), before: before, fn: fn, done: make(chan error, 1)}
	return r.enqueue(ctx, w, j)
}

func (r *Registry) enqueue(ctx context.Context, w *worker, j *job) error {
	select {
	case w.jobs <- j:
	case <-w.exited:
		return fmt.Errorf("%w: %s", ErrEngineReloading, w.market)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-w.exited:
		select {
		case err := <-j.done:
			return err
		default:
			return fmt.Errorf("%w: %s", ErrEngineReloading, w.market)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) stop(ctx context.Context, w *worker) error {
	if err := r.enqueue(ctx, w, &job{stop: true, done: make(chan error, 1)}); err != nil && !errors.Is(err, ErrEngineReloading) {
		return err
	}
	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) worker(market string) (*worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if w, ok := r.workers[market]; ok {
		return w, nil
	}
	if _, err := r.refs.GetMarket(market); err != nil {
		return nil, err
	}
	w := &worker{
		market: market,
		jobs:   make(chan *job, r.opts.QueueSize),
		exited: make(chan struct{}),
	}
	r.workers[market] = w
	go r.run(w)
	return w, nil
}

func (r *Registry) run(w *worker) {
	defer func() {
		r.mu.Lock()
		if r.workers[w.market] == w {
			delete(r.workers, w.market)
		}
		r.mu.Unlock()
		close(w.exited)
	}()

	for {
		j := <-w.jobs
		if j.stop {
			j.done <- nil
			return
		}
		j.done <- r.execute(w, j)
	}
}

func (r *Registry) execute(w *worker, j *job) error {
	if w.engine == nil {
		e, err := r.bootstrap(j.ctx, w.market, j.before)
		if err != nil {
			return err
		}
		w.engine = e
	}

	wasHalted := w.engine.Halted() != nil
	err := j.fn(j.ctx, w.engine)
	if !wasHalted && w.engine.Halted() != nil {
		r.metrics.EngineHalts.WithLabelValues(w.market).Inc()
	}
	r.publishDepth(j.ctx, w.engine)
	return err
}

// bootstrap 创建引擎并按 id 顺序回放活跃订单
// 由订单 X 的 submit 触发时只回放 id 小于 X 的订单，X 本身随后正常撮合。
func (r *Registry) bootstrap(ctx context.Context, market string, before uint64) (*domain.Engine, error) {
	m, err := r.refs.GetMarket(market)
	if err != nil {
		return nil, err
	}
	e := domain.NewEngine(m, r.settler, r.opts.Fuse, r.logger)
	if r.opts.Fresh {
		r.logger.InfoContext(ctx, "matching engine started fresh", "market", market)
		return e, nil
	}

	done := logger.LogDuration(ctx, "order book replayed", "market", market)
	defer done()
	orders, err := r.orders.ListActive(ctx, market, before)
	if err != nil {
		return nil, fmt.Errorf("failed to load active orders of %s: %w", market, err)
	}
	for _, o := range orders {
		if _, err := e.Submit(ctx, o); err != nil {
			r.logger.ErrorContext(ctx, "failed to replay order", "market", market, "order_id", o.ID, "error", err)
			return nil, fmt.Errorf("failed to replay order %d: %w", o.ID, err)
		}
	}
	r.logger.InfoContext(ctx, "matching engine started", "market", market, "replayed", len(orders), "before_id", before)
	return e, nil
}

func (r *Registry) publishDepth(ctx context.Context, e *domain.Engine) {
	book := e.Book()
	r.metrics.BookDepth.WithLabelValues(book.Market, string(order.SideAsk)).Set(float64(book.Len(order.SideAsk)))
	r.metrics.BookDepth.WithLabelValues(book.Market, string(order.SideBid)).Set(float64(book.Len(order.SideBid)))
	if r.depths == nil {
		return
	}
	if err := r.depths.Save(ctx, book.Depth(r.opts.DepthLevels)); err != nil {
		r.logger.WarnContext(ctx, "failed to cache depth", "market", book.Market, "error", err)
	}
}

func trimDepth(d *domain.Depth, limit int) *domain.Depth {
	out := *d
	if len(out.Asks) > limit {
		out.Asks = out.Asks[:limit]
	}
	if len(out.Bids) > limit {
		out.Bids = out.Bids[:limit]
	}
	return &out
}

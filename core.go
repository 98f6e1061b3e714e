// Core types for rxcore
// 响应式序列引擎的核心类型定义：通知模型、观察者契约与订阅生命周期
package rxcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// 通知模型
// ============================================================================

// Item 表示流中的一个通知：携带值、错误或完成信号三者之一
type Item struct {
	Value    interface{} // 数据值
	Error    error       // 错误信息
	complete bool        // 完成标记
}

// CreateItem 创建包含值的通知
func CreateItem(value interface{}) Item {
	return Item{Value: value}
}

// CreateErrorItem 创建包含错误的通知
func CreateErrorItem(err error) Item {
	return Item{Error: err}
}

// CreateCompleteItem 创建完成通知
func CreateCompleteItem() Item {
	return Item{complete: true}
}

// IsError 检查通知是否携带错误
func (item Item) IsError() bool {
	return item.Error != nil
}

// IsComplete 检查通知是否为完成信号
func (item Item) IsComplete() bool {
	return item.complete
}

// IsValue 检查通知是否携带值
func (item Item) IsValue() bool {
	return !item.complete && item.Error == nil
}

// isTerminal 错误与完成都是终结通知
func (item Item) isTerminal() bool {
	return item.complete || item.Error != nil
}

// GetValue 获取通知的值，错误或完成通知返回nil
func (item Item) GetValue() interface{} {
	if !item.IsValue() {
		return nil
	}
	return item.Value
}

// ============================================================================
// 函数类型定义
// ============================================================================

// Observer 观察者函数类型，依次接收流中的每个通知
type Observer func(item Item)

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnComplete 处理完成的函数
type OnComplete func()

// Predicate 谓词函数，用于条件判断
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于投影
type Transformer func(value interface{}) (interface{}, error)

// ============================================================================
// 订阅生命周期
// ============================================================================

// Subscription 订阅接口，管理订阅激活的全部资源
type Subscription interface {
	// Unsubscribe 取消订阅，幂等且可并发调用
	Unsubscribe()
	// IsUnsubscribed 检查是否已取消订阅
	IsUnsubscribed() bool
}

// baseSubscription 基础订阅实现
type baseSubscription struct {
	unsubscribed int32
	disposable   Disposable
}

// NewBaseSubscription 创建基础订阅
func NewBaseSubscription(disposable Disposable) Subscription {
	return &baseSubscription{
		disposable: disposable,
	}
}

// Unsubscribe 取消订阅
func (s *baseSubscription) Unsubscribe() {
	if atomic.CompareAndSwapInt32(&s.unsubscribed, 0, 1) {
		if s.disposable != nil {
			s.disposable.Dispose()
		}
	}
}

// IsUnsubscribed 检查是否已取消订阅
func (s *baseSubscription) IsUnsubscribed() bool {
	return atomic.LoadInt32(&s.unsubscribed) == 1
}

// ============================================================================
// 观察者契约门闸
// ============================================================================

// gatedObserver 每个订阅一个的串行化门闸，保证观察者契约：
// 通知严格顺序交付、终结通知至多一个、终结或取消订阅之后不再有任何调用。
// 停止标记使用原子变量而非门闸互斥锁，因此在通知回调内部取消订阅不会死锁。
type gatedObserver struct {
	mu         sync.Mutex
	downstream Observer
	stopped    int32
}

// newGatedObserver 创建门闸观察者
func newGatedObserver(downstream Observer) *gatedObserver {
	return &gatedObserver{downstream: downstream}
}

// Notify 在门闸内交付一个通知；终结通知之后的调用被丢弃
func (g *gatedObserver) Notify(item Item) {
	if atomic.LoadInt32(&g.stopped) == 1 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// 拿到门闸后重新检查，避免与并发的终结通知或Stop交错
	if atomic.LoadInt32(&g.stopped) == 1 {
		return
	}

	if item.isTerminal() {
		atomic.StoreInt32(&g.stopped, 1)
	}

	g.downstream(item)
}

// Stop 立即停止后续交付。已在途的单个通知允许完成交付，
// 已调度而尚未交付的通知从此不再到达下游。
func (g *gatedObserver) Stop() {
	atomic.StoreInt32(&g.stopped, 1)
}

// IsStopped 检查门闸是否已停止
func (g *gatedObserver) IsStopped() bool {
	return atomic.LoadInt32(&g.stopped) == 1
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	Scheduler Scheduler
	Context   context.Context
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Context: context.Background(),
	}
}

// applyOptions 应用配置选项
func applyOptions(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return config
}

// schedulerOf 返回配置中的调度器，未指定时回退到默认调度器
func (c *Config) schedulerOf() Scheduler {
	if c.Scheduler != nil {
		return c.Scheduler
	}
	return DefaultScheduler
}

// WithContext 创建携带上下文的选项，上下文取消时订阅被释放
func WithContext(ctx context.Context) Option {
	return &contextOption{ctx: ctx}
}

// contextOption 上下文选项
type contextOption struct {
	ctx context.Context
}

// Apply 应用上下文选项
func (o *contextOption) Apply(config *Config) {
	config.Context = o.ctx
}

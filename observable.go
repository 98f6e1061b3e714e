// Observable core implementation for rxcore
// 惰性订阅契约的核心实现：序列是"给定观察者、产出可释放令牌"的规则值，
// 订阅是唯一发生求值与副作用的时刻
package rxcore

import (
	"time"
)

// ============================================================================
// Observable 核心接口
// ============================================================================

// Observable 可观察序列。值本身是不可变、可复用的纯描述：
// 订阅两次得到两次相互独立的执行，除非序列显式构建自热源
type Observable interface {
	// Subscribe 订阅观察者，激活求值并返回订阅令牌
	Subscribe(observer Observer) Subscription

	// SubscribeWithCallbacks 使用回调函数订阅
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription

	// 缓冲窗口操作符
	Buffer(count int) Observable
	BufferWithSkip(count, skip int) Observable
	BufferWithTime(timespan time.Duration, options ...Option) Observable
	BufferWithTimeOrCount(timespan time.Duration, count int, options ...Option) Observable
	BufferWithTimeShift(timespan, timeshift time.Duration, options ...Option) Observable
	BufferWithBoundary(boundary Observable) Observable
	BufferWithClosingSelector(closingSelector func() Observable) Observable
	BufferWhen(openings Observable, closingSelector func(opening interface{}) Observable) Observable

	// 时移操作符
	Delay(duration time.Duration, options ...Option) Observable
	DelayWithSelector(delaySelector func(value interface{}) Observable) Observable
	Sample(period time.Duration, options ...Option) Observable
	Throttle(dueTime time.Duration, options ...Option) Observable
	ThrottleWithSelector(durationSelector func(value interface{}) Observable) Observable

	// 超时操作符
	Timeout(dueTime time.Duration, options ...Option) Observable
	TimeoutWithFallback(dueTime time.Duration, other Observable, options ...Option) Observable
	TimeoutAt(due time.Time, options ...Option) Observable
	TimeoutAtWithFallback(due time.Time, other Observable, options ...Option) Observable
	TimeoutWithSelector(first Observable, durationSelector func(value interface{}) Observable, other Observable, options ...Option) Observable
}

// ============================================================================
// Observable 核心实现
// ============================================================================

// observableImpl Observable的核心实现
type observableImpl struct {
	source func(observer Observer) Subscription
	config *Config
}

// NewObservable 从订阅规则创建Observable。规则仅在Subscribe时被调用，
// 构造Observable值本身不做任何工作
func NewObservable(source func(observer Observer) Subscription, options ...Option) Observable {
	return &observableImpl{
		source: source,
		config: applyOptions(options),
	}
}

// Subscribe 订阅观察者。每次订阅同步调用一次订阅规则；
// 下游观察者被串行化门闸包裹，终结通知到达时订阅持有的全部资源被释放
func (o *observableImpl) Subscribe(observer Observer) Subscription {
	gate := newGatedObserver(observer)
	resources := NewCompositeDisposable()
	resources.Add(NewDisposable(gate.Stop))

	// 上游令牌先占位再赋值：订阅规则可能在返回令牌之前就同步发出终结通知，
	// 此时资源组合已释放，迟到的令牌会被立即释放而不是泄漏
	upstream := NewSingleAssignmentDisposable()
	resources.Add(upstream)

	wrapped := func(item Item) {
		gate.Notify(item)
		if item.isTerminal() {
			resources.Dispose()
		}
	}

	subscription := o.source(wrapped)
	if subscription != nil {
		upstream.Set(NewDisposable(subscription.Unsubscribe))
	}

	if ctx := o.config.Context; ctx != nil && ctx.Done() != nil {
		stop := make(chan struct{})
		resources.Add(NewDisposable(func() { close(stop) }))

		go func() {
			select {
			case <-ctx.Done():
				resources.Dispose()
			case <-stop:
			}
		}()
	}

	return NewBaseSubscription(resources)
}

// SubscribeWithCallbacks 使用回调函数订阅
func (o *observableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	observer := func(item Item) {
		if item.IsError() {
			if onError != nil {
				onError(item.Error)
			}
		} else if item.IsComplete() {
			if onComplete != nil {
				onComplete()
			}
		} else {
			if onNext != nil {
				onNext(item.Value)
			}
		}
	}
	return o.Subscribe(observer)
}

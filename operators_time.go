// Time-shifting operators for rxcore
// 时移操作符：Delay按到达时间平移、Sample周期采样、Throttle滑动防抖、
// Timeout在静默超限时裁决。全部等待都表达为调度回调，从不阻塞调用方
package rxcore

import (
	"errors"
	"sync"
	"time"
)

// ============================================================================
// Delay 延迟
// ============================================================================

// Delay 为每个上游值打上到达时间戳，在到达时间+duration重新发射，
// 值与值之间的相对间距被精确保留；完成同样延迟duration，因而永远不会
// 先于最后一个被延迟的值。错误是唯一的例外：立即传播且取消所有待发值。
// duration不能为负
func (o *observableImpl) Delay(duration time.Duration, options ...Option) Observable {
	if duration < 0 {
		panic("rxcore: negative duration for Delay")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		pending := NewCompositeDisposable()

		sub := o.Subscribe(func(item Item) {
			if item.IsError() {
				// 错误不延迟：先撤掉所有待发定时器再传播
				pending.Dispose()
				observer(item)
				return
			}

			forwarded := item
			var timer Disposable
			timer = scheduler.ScheduleWithDelay(func() {
				observer(forwarded)
				pending.Remove(timer)
			}, duration)
			pending.Add(timer)
		})

		return NewBaseSubscription(NewCompositeDisposable(pending, asDisposable(sub)))
	})
}

// DelayWithSelector 每个值的延迟由delaySelector(值)返回的序列决定：
// 该序列产生首个值或完成时值被发射。各值的延迟互不相同，
// 因此下游顺序不保证与到达顺序一致。完成要等上游完成且所有在途值
// 发射完毕后才交付
func (o *observableImpl) DelayWithSelector(delaySelector func(value interface{}) Observable) Observable {
	if delaySelector == nil {
		panic("rxcore: nil delay selector for DelayWithSelector")
	}

	return NewObservable(func(observer Observer) Subscription {
		var mu sync.Mutex
		inflight := 0
		sourceDone := false
		resources := NewCompositeDisposable()

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				sourceDone = true
				done := inflight == 0
				mu.Unlock()

				if done {
					observer(item)
				}

			default:
				value := item.Value
				mu.Lock()
				inflight++
				mu.Unlock()

				fired := false
				var hold Disposable
				hold = asDisposable(delaySelector(value).Subscribe(func(delayItem Item) {
					if delayItem.IsError() {
						observer(delayItem)
						return
					}
					if fired {
						return
					}
					fired = true

					observer(CreateItem(value))

					mu.Lock()
					inflight--
					last := sourceDone && inflight == 0
					mu.Unlock()

					resources.Remove(hold)
					if last {
						observer(CreateCompleteItem())
					}
				}))
				resources.Add(hold)
			}
		})
		resources.Add(asDisposable(sub))

		return NewBaseSubscription(resources)
	})
}

// ============================================================================
// Sample 采样
// ============================================================================

// Sample 每隔period采样一次：槽位里有未采样的最新值就发射并清空，
// 否则该滴答静默。上游完成立即向下游完成，最后一个未采样的值被丢弃——
// 采样天生有损。period必须为正
func (o *observableImpl) Sample(period time.Duration, options ...Option) Observable {
	if period <= 0 {
		panic("rxcore: non-positive period for Sample")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		var mu sync.Mutex
		var latest interface{}
		fresh := false

		resources := NewCompositeDisposable()
		resources.Add(scheduler.SchedulePeriodic(func() {
			mu.Lock()
			value := latest
			had := fresh
			latest = nil
			fresh = false
			mu.Unlock()

			if had {
				observer(CreateItem(value))
			}
		}, period, period))

		sub := o.Subscribe(func(item Item) {
			if !item.IsValue() {
				observer(item)
				return
			}

			mu.Lock()
			latest = item.Value
			fresh = true
			mu.Unlock()
		})
		resources.Add(asDisposable(sub))

		return NewBaseSubscription(resources)
	})
}

// ============================================================================
// Throttle 滑动防抖
// ============================================================================

// Throttle 滑动防抖：每个上游值都取消在途的发射定时器并重新计时dueTime，
// 定时器先于下一个值到期则发射持有值。恒定快于dueTime的源在放缓或完成前
// 不产生任何输出；完成时持有值绕过定时器立即发射。dueTime必须为正
func (o *observableImpl) Throttle(dueTime time.Duration, options ...Option) Observable {
	if dueTime <= 0 {
		panic("rxcore: non-positive dueTime for Throttle")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		state := newThrottleState(observer)
		timers := NewSerialDisposable()

		sub := o.Subscribe(func(item Item) {
			if !item.IsValue() {
				state.finish(item, timers)
				return
			}

			id := state.hold(item.Value)
			timers.Set(scheduler.ScheduleWithDelay(func() { state.fire(id) }, dueTime))
		})

		return NewBaseSubscription(NewCompositeDisposable(timers, asDisposable(sub)))
	})
}

// ThrottleWithSelector 与Throttle一致，但每个值的计时窗口由
// durationSelector(值)返回的序列决定：它产生首个值或完成即视为到期
func (o *observableImpl) ThrottleWithSelector(durationSelector func(value interface{}) Observable) Observable {
	if durationSelector == nil {
		panic("rxcore: nil duration selector for ThrottleWithSelector")
	}

	return NewObservable(func(observer Observer) Subscription {
		state := newThrottleState(observer)
		timers := NewSerialDisposable()

		sub := o.Subscribe(func(item Item) {
			if !item.IsValue() {
				state.finish(item, timers)
				return
			}

			id := state.hold(item.Value)
			timers.Set(asDisposable(durationSelector(item.Value).Subscribe(func(durationItem Item) {
				if durationItem.IsError() {
					observer(durationItem)
					return
				}
				state.fire(id)
			})))
		})

		return NewBaseSubscription(NewCompositeDisposable(timers, asDisposable(sub)))
	})
}

// throttleState 防抖操作符的持有值状态，序号判别过期的到期回调
type throttleState struct {
	mu       sync.Mutex
	observer Observer
	held     interface{}
	hasHeld  bool
	seq      int
}

// newThrottleState 创建防抖状态
func newThrottleState(observer Observer) *throttleState {
	return &throttleState{observer: observer}
}

// hold 记录新的持有值并作废先前的计时窗口
func (t *throttleState) hold(value interface{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.held = value
	t.hasHeld = true
	t.seq++
	return t.seq
}

// fire 计时窗口到期：持有值仍然有效则发射
func (t *throttleState) fire(id int) {
	t.mu.Lock()
	if id != t.seq || !t.hasHeld {
		t.mu.Unlock()
		return
	}
	value := t.held
	t.held = nil
	t.hasHeld = false
	t.mu.Unlock()

	t.observer(CreateItem(value))
}

// finish 终结通知：完成时持有值绕过定时器立即发射，错误直接传播
func (t *throttleState) finish(item Item, timers *SerialDisposable) {
	timers.Dispose()

	if item.IsComplete() {
		t.mu.Lock()
		value := t.held
		had := t.hasHeld
		t.held = nil
		t.hasHeld = false
		t.mu.Unlock()

		if had {
			t.observer(CreateItem(value))
		}
	}

	t.observer(item)
}

// ============================================================================
// Timeout 超时
// ============================================================================

// TimeoutError 超时操作符合成的错误，区别于上游上报的错误
type TimeoutError struct {
	message string
}

// Error 实现error接口
func (e *TimeoutError) Error() string {
	return e.message
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string) *TimeoutError {
	return &TimeoutError{message: message}
}

// IsTimeoutError 判别一个错误是否由超时操作符合成
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// Timeout 订阅时武装一个dueTime定时器，并在每个交付值之后重新武装。
// 定时器先于下一次活动到期则以超时错误终结。dueTime必须为正
func (o *observableImpl) Timeout(dueTime time.Duration, options ...Option) Observable {
	return o.timeoutWithWindows(relativeTimeoutWindows(dueTime), nil, options)
}

// TimeoutWithFallback 与Timeout一致，但超时后不报错：释放已超时的上游，
// 从该时刻起接驳到other并原样转发它的全部通知
func (o *observableImpl) TimeoutWithFallback(dueTime time.Duration, other Observable, options ...Option) Observable {
	if other == nil {
		panic("rxcore: nil fallback for TimeoutWithFallback")
	}
	return o.timeoutWithWindows(relativeTimeoutWindows(dueTime), other, options)
}

// TimeoutAt 单次定时到绝对时刻due，不随值重新武装
func (o *observableImpl) TimeoutAt(due time.Time, options ...Option) Observable {
	return o.timeoutAbsolute(due, nil, options)
}

// TimeoutAtWithFallback 绝对时刻超时后接驳到other
func (o *observableImpl) TimeoutAtWithFallback(due time.Time, other Observable, options ...Option) Observable {
	if other == nil {
		panic("rxcore: nil fallback for TimeoutAtWithFallback")
	}
	return o.timeoutAbsolute(due, other, options)
}

// TimeoutWithSelector 逐元素超时：每收到一个值就用durationSelector(值)
// 返回的序列重新武装计时窗口（它产生首个值或完成即视为超时），first非nil
// 时首个元素使用独立的首窗口。other非nil时超时后接驳而不是报错
func (o *observableImpl) TimeoutWithSelector(first Observable, durationSelector func(value interface{}) Observable, other Observable, options ...Option) Observable {
	if durationSelector == nil {
		panic("rxcore: nil duration selector for TimeoutWithSelector")
	}

	windows := timeoutWindows{
		first: func(t *timeoutRunner, id int) Disposable {
			if first == nil {
				return EmptyDisposable()
			}
			return t.armWithSequence(first, id)
		},
		next: func(t *timeoutRunner, value interface{}, id int) Disposable {
			return t.armWithSequence(durationSelector(value), id)
		},
	}
	return o.timeoutWithWindows(windows, other, options)
}

// timeoutWindows 超时窗口的武装策略：订阅时的首窗口与每个值之后的续窗口
type timeoutWindows struct {
	first func(t *timeoutRunner, id int) Disposable
	next  func(t *timeoutRunner, value interface{}, id int) Disposable
}

// relativeTimeoutWindows 固定dueTime的窗口策略
func relativeTimeoutWindows(dueTime time.Duration) timeoutWindows {
	if dueTime <= 0 {
		panic("rxcore: non-positive dueTime for Timeout")
	}

	arm := func(t *timeoutRunner, id int) Disposable {
		return t.scheduler.ScheduleWithDelay(func() { t.trip(id) }, dueTime)
	}
	return timeoutWindows{
		first: arm,
		next:  func(t *timeoutRunner, _ interface{}, id int) Disposable { return arm(t, id) },
	}
}

// timeoutRunner 超时操作符的单订阅状态机
type timeoutRunner struct {
	mu        sync.Mutex
	seq       int
	switched  bool
	scheduler Scheduler
	observer  Observer
	other     Observable
	timers    *SerialDisposable
	upstream  *SingleAssignmentDisposable
	fallback  *SingleAssignmentDisposable
}

// armWithSequence 用一条序列做计时窗口：首个值或完成都触发超时裁决
func (t *timeoutRunner) armWithSequence(window Observable, id int) Disposable {
	return asDisposable(window.Subscribe(func(item Item) {
		if item.IsError() {
			t.observer(item)
			return
		}
		t.trip(id)
	}))
}

// nextWindow 持锁推进窗口序号
func (t *timeoutRunner) nextWindow() int {
	t.seq++
	return t.seq
}

// trip 超时到期：过期窗口被忽略；生效时要么合成超时错误，
// 要么释放上游并接驳到备用序列
func (t *timeoutRunner) trip(id int) {
	t.mu.Lock()
	if t.switched || id != t.seq {
		t.mu.Unlock()
		return
	}
	t.switched = true
	t.mu.Unlock()

	t.upstream.Dispose()

	if t.other == nil {
		t.observer(CreateErrorItem(NewTimeoutError("rxcore: timeout elapsed with no activity")))
		return
	}
	t.fallback.Set(asDisposable(t.other.Subscribe(t.observer)))
}

// timeoutWithWindows 以给定窗口策略构建超时操作符
func (o *observableImpl) timeoutWithWindows(windows timeoutWindows, other Observable, options []Option) Observable {
	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		runner := &timeoutRunner{
			scheduler: config.schedulerOf(),
			observer:  observer,
			other:     other,
			timers:    NewSerialDisposable(),
			upstream:  NewSingleAssignmentDisposable(),
			fallback:  NewSingleAssignmentDisposable(),
		}

		runner.mu.Lock()
		id := runner.nextWindow()
		runner.mu.Unlock()
		runner.timers.Set(windows.first(runner, id))

		sub := o.Subscribe(func(item Item) {
			runner.mu.Lock()
			if runner.switched {
				runner.mu.Unlock()
				return
			}

			if item.isTerminal() {
				runner.switched = true
				runner.mu.Unlock()
				runner.timers.Dispose()
				observer(item)
				return
			}

			// 持锁转发并重新武装，保证超时裁决与值交付不交错
			observer(item)
			nextID := runner.nextWindow()
			runner.mu.Unlock()

			runner.timers.Set(windows.next(runner, item.Value, nextID))
		})
		runner.upstream.Set(asDisposable(sub))

		return NewBaseSubscription(NewCompositeDisposable(runner.timers, runner.fallback, runner.upstream))
	})
}

// timeoutAbsolute 绝对时刻的单次超时
func (o *observableImpl) timeoutAbsolute(due time.Time, other Observable, options []Option) Observable {
	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		runner := &timeoutRunner{
			scheduler: config.schedulerOf(),
			observer:  observer,
			other:     other,
			timers:    NewSerialDisposable(),
			upstream:  NewSingleAssignmentDisposable(),
			fallback:  NewSingleAssignmentDisposable(),
		}

		// 单次窗口：序号恒为1，值的到来不重新武装
		runner.mu.Lock()
		id := runner.nextWindow()
		runner.mu.Unlock()
		runner.timers.Set(runner.scheduler.ScheduleAt(func() { runner.trip(id) }, due))

		sub := o.Subscribe(func(item Item) {
			runner.mu.Lock()
			if runner.switched {
				runner.mu.Unlock()
				return
			}

			if item.isTerminal() {
				runner.switched = true
				runner.mu.Unlock()
				runner.timers.Dispose()
				observer(item)
				return
			}

			observer(item)
			runner.mu.Unlock()
		})
		runner.upstream.Set(asDisposable(sub))

		return NewBaseSubscription(NewCompositeDisposable(runner.timers, runner.fallback, runner.upstream))
	})
}

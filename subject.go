// PublishSubject for rxcore
// 热源原语：既是Observable又是Observer，把手动驱动的事件桥接进订阅契约。
// 缓冲操作符的边界/开启/关闭序列与测试中的受控源都由它扮演
package rxcore

import (
	"sync"
	"time"
)

// ============================================================================
// PublishSubject 发布主题
// ============================================================================

// PublishSubject 向订阅时刻之后的观察者转发通知的热源。
// 终结之后订阅的观察者立即收到同样的终结通知
type PublishSubject struct {
	mu        sync.Mutex
	observers []subjectEntry
	nextID    int
	completed bool
	err       error
}

// subjectEntry 带身份的观察者记录，保证按订阅顺序广播
type subjectEntry struct {
	id       int
	observer Observer
}

// NewPublishSubject 创建发布主题
func NewPublishSubject() *PublishSubject {
	return &PublishSubject{}
}

// AsObservable 以Observable视图暴露主题，便于接入操作符管道
func (ps *PublishSubject) AsObservable() Observable {
	return NewObservable(ps.subscribeSource)
}

// AsObserver 以Observer函数视图暴露主题
func (ps *PublishSubject) AsObserver() Observer {
	return func(item Item) {
		switch {
		case item.IsError():
			ps.OnError(item.Error)
		case item.IsComplete():
			ps.OnComplete()
		default:
			ps.OnNext(item.Value)
		}
	}
}

// Subscribe 订阅观察者
func (ps *PublishSubject) Subscribe(observer Observer) Subscription {
	return ps.AsObservable().Subscribe(observer)
}

// SubscribeWithCallbacks 使用回调函数订阅
func (ps *PublishSubject) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	return ps.AsObservable().SubscribeWithCallbacks(onNext, onError, onComplete)
}

// subscribeSource 订阅规则：终结后的迟到订阅立即重放终结通知
func (ps *PublishSubject) subscribeSource(observer Observer) Subscription {
	ps.mu.Lock()
	if ps.err != nil {
		ps.mu.Unlock()
		observer(CreateErrorItem(ps.err))
		return NewBaseSubscription(EmptyDisposable())
	}
	if ps.completed {
		ps.mu.Unlock()
		observer(CreateCompleteItem())
		return NewBaseSubscription(EmptyDisposable())
	}

	ps.nextID++
	id := ps.nextID
	ps.observers = append(ps.observers, subjectEntry{id: id, observer: observer})
	ps.mu.Unlock()

	return NewBaseSubscription(NewDisposable(func() {
		ps.mu.Lock()
		for i, entry := range ps.observers {
			if entry.id == id {
				ps.observers = append(ps.observers[:i], ps.observers[i+1:]...)
				break
			}
		}
		ps.mu.Unlock()
	}))
}

// snapshot 拷贝当前观察者集合，广播在锁外同步进行以保证顺序
func (ps *PublishSubject) snapshot() []Observer {
	observers := make([]Observer, 0, len(ps.observers))
	for _, entry := range ps.observers {
		observers = append(observers, entry.observer)
	}
	return observers
}

// OnNext 向所有观察者发送下一个值
func (ps *PublishSubject) OnNext(value interface{}) {
	ps.mu.Lock()
	if ps.completed || ps.err != nil {
		ps.mu.Unlock()
		return
	}
	observers := ps.snapshot()
	ps.mu.Unlock()

	item := CreateItem(value)
	for _, observer := range observers {
		observer(item)
	}
}

// OnError 向所有观察者发送错误并终结主题
func (ps *PublishSubject) OnError(err error) {
	ps.mu.Lock()
	if ps.completed || ps.err != nil {
		ps.mu.Unlock()
		return
	}
	ps.err = err
	observers := ps.snapshot()
	ps.observers = nil
	ps.mu.Unlock()

	item := CreateErrorItem(err)
	for _, observer := range observers {
		observer(item)
	}
}

// OnComplete 向所有观察者发送完成信号并终结主题
func (ps *PublishSubject) OnComplete() {
	ps.mu.Lock()
	if ps.completed || ps.err != nil {
		ps.mu.Unlock()
		return
	}
	ps.completed = true
	observers := ps.snapshot()
	ps.observers = nil
	ps.mu.Unlock()

	item := CreateCompleteItem()
	for _, observer := range observers {
		observer(item)
	}
}

// HasObservers 检查是否有观察者
func (ps *PublishSubject) HasObservers() bool {
	return ps.ObserverCount() > 0
}

// ObserverCount 当前观察者数量
func (ps *PublishSubject) ObserverCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.observers)
}

// ============================================================================
// 热源的定时辅助
// ============================================================================

// EmitAt 在调度器的给定延迟后向主题发送一个值，返回可取消的句柄。
// 测试里用它在虚拟时间轴上编排受控源
func (ps *PublishSubject) EmitAt(scheduler Scheduler, delay time.Duration, value interface{}) Disposable {
	return scheduler.ScheduleWithDelay(func() { ps.OnNext(value) }, delay)
}

// CompleteAt 在调度器的给定延迟后完成主题
func (ps *PublishSubject) CompleteAt(scheduler Scheduler, delay time.Duration) Disposable {
	return scheduler.ScheduleWithDelay(ps.OnComplete, delay)
}

// ErrorAt 在调度器的给定延迟后以错误终结主题
func (ps *PublishSubject) ErrorAt(scheduler Scheduler, delay time.Duration, err error) Disposable {
	return scheduler.ScheduleWithDelay(func() { ps.OnError(err) }, delay)
}

// Observable core tests for rxcore
// 订阅契约的测试：惰性求值、通知串行化、终结唯一性、资源回收与取消订阅
package rxcore

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// 惰性求值测试
// ============================================================================

func TestCreateLaziness(t *testing.T) {
	t.Run("构造Observable不调用订阅规则", func(t *testing.T) {
		calls := 0
		obs := Create(func(observer Observer) Disposable {
			calls++
			observer(CreateCompleteItem())
			return nil
		})

		if calls != 0 {
			t.Errorf("构造时订阅规则不应被调用, 得到%d次", calls)
		}

		obs.Subscribe(func(Item) {})
		if calls != 1 {
			t.Errorf("首次订阅后期望调用1次, 得到%d次", calls)
		}
	})

	t.Run("每次订阅得到独立的一次执行", func(t *testing.T) {
		calls := 0
		obs := Create(func(observer Observer) Disposable {
			calls++
			observer(CreateItem(calls))
			observer(CreateCompleteItem())
			return nil
		})

		first := newRecording()
		second := newRecording()
		obs.Subscribe(first.Observer())
		obs.Subscribe(second.Observer())

		if calls != 2 {
			t.Errorf("两次订阅期望两次执行, 得到%d次", calls)
		}
		if !reflect.DeepEqual(first.Values(), []interface{}{1}) {
			t.Errorf("首次订阅期望 [1], 得到 %v", first.Values())
		}
		if !reflect.DeepEqual(second.Values(), []interface{}{2}) {
			t.Errorf("再次订阅期望 [2], 得到 %v", second.Values())
		}
	})

	t.Run("nil订阅规则触发恐慌", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("nil订阅规则应在构造时触发恐慌")
			}
		}()
		Create(nil)
	})
}

// ============================================================================
// 观察者契约测试
// ============================================================================

func TestObserverContract(t *testing.T) {
	t.Run("完成之后的通知被抑制", func(t *testing.T) {
		obs := Create(func(observer Observer) Disposable {
			observer(CreateItem(1))
			observer(CreateCompleteItem())
			observer(CreateItem(2))
			observer(CreateErrorItem(errors.New("迟到的错误")))
			observer(CreateCompleteItem())
			return nil
		})

		rec := newRecording()
		obs.Subscribe(rec.Observer())

		if !reflect.DeepEqual(rec.Values(), []interface{}{1}) {
			t.Errorf("期望只收到 [1], 得到 %v", rec.Values())
		}
		if rec.Completions() != 1 {
			t.Errorf("期望恰好1次完成, 得到%d次", rec.Completions())
		}
		if len(rec.Errors()) != 0 {
			t.Errorf("完成之后的错误应被抑制, 得到 %v", rec.Errors())
		}
	})

	t.Run("错误之后的通知被抑制", func(t *testing.T) {
		boom := errors.New("上游错误")
		obs := Create(func(observer Observer) Disposable {
			observer(CreateErrorItem(boom))
			observer(CreateItem(1))
			observer(CreateCompleteItem())
			return nil
		})

		rec := newRecording()
		obs.Subscribe(rec.Observer())

		if len(rec.Values()) != 0 {
			t.Errorf("错误之后的值应被抑制, 得到 %v", rec.Values())
		}
		if !reflect.DeepEqual(rec.Errors(), []error{boom}) {
			t.Errorf("期望错误 [%v], 得到 %v", boom, rec.Errors())
		}
		if rec.Completed() {
			t.Error("错误之后的完成应被抑制")
		}
	})

	t.Run("并发发射被串行化交付", func(t *testing.T) {
		const workers = 4
		const perWorker = 100

		obs := Create(func(observer Observer) Disposable {
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						observer(CreateItem(j))
					}
				}()
			}
			go func() {
				wg.Wait()
				observer(CreateCompleteItem())
			}()
			return nil
		})

		var active int32
		var overlapped int32
		var received int32
		done := make(chan bool, 1)

		obs.Subscribe(func(item Item) {
			if atomic.AddInt32(&active, 1) != 1 {
				atomic.StoreInt32(&overlapped, 1)
			}
			if item.IsValue() {
				atomic.AddInt32(&received, 1)
			}
			atomic.AddInt32(&active, -1)

			if item.IsComplete() {
				done <- true
			}
		})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("并发发射测试超时")
		}

		if atomic.LoadInt32(&overlapped) != 0 {
			t.Error("观察者被并发进入, 通知未串行化")
		}
		if got := atomic.LoadInt32(&received); got != workers*perWorker {
			t.Errorf("期望收到%d个值, 得到 %d", workers*perWorker, got)
		}
	})

	t.Run("回调内取消订阅不死锁且生效", func(t *testing.T) {
		subject := NewPublishSubject()
		rec := newRecording()

		var sub Subscription
		sub = subject.Subscribe(func(item Item) {
			rec.Observer()(item)
			sub.Unsubscribe()
		})

		subject.OnNext(1)
		subject.OnNext(2)

		if !reflect.DeepEqual(rec.Values(), []interface{}{1}) {
			t.Errorf("取消订阅后不应再收到值, 得到 %v", rec.Values())
		}
	})
}

// ============================================================================
// 资源回收测试
// ============================================================================

func TestSubscriptionTeardown(t *testing.T) {
	t.Run("取消订阅释放上游令牌", func(t *testing.T) {
		released := false
		obs := Create(func(observer Observer) Disposable {
			return NewDisposable(func() { released = true })
		})

		sub := obs.Subscribe(func(Item) {})

		if released {
			t.Error("取消订阅前资源不应被释放")
		}

		sub.Unsubscribe()

		if !released {
			t.Error("取消订阅后资源应被释放")
		}
		if !sub.IsUnsubscribed() {
			t.Error("取消后订阅应处于已取消状态")
		}
	})

	t.Run("重复取消订阅幂等", func(t *testing.T) {
		count := 0
		obs := Create(func(observer Observer) Disposable {
			return NewDisposable(func() { count++ })
		})

		sub := obs.Subscribe(func(Item) {})
		sub.Unsubscribe()
		sub.Unsubscribe()
		sub.Unsubscribe()

		if count != 1 {
			t.Errorf("期望释放动作执行1次, 得到 %d", count)
		}
	})

	t.Run("同步终结时迟到的令牌不泄漏", func(t *testing.T) {
		released := false
		obs := Create(func(observer Observer) Disposable {
			// 令牌返回之前序列就已终结
			observer(CreateItem(1))
			observer(CreateCompleteItem())
			return NewDisposable(func() { released = true })
		})

		obs.Subscribe(func(Item) {})

		if !released {
			t.Error("同步终结后返回的令牌应被立即释放")
		}
	})

	t.Run("终结通知自动释放资源", func(t *testing.T) {
		released := false
		subject := NewPublishSubject()
		obs := Create(func(observer Observer) Disposable {
			sub := subject.subscribeSource(observer)
			return NewCompositeDisposable(asDisposable(sub), NewDisposable(func() { released = true }))
		})

		obs.Subscribe(func(Item) {})
		subject.OnComplete()

		if !released {
			t.Error("完成通知交付后订阅资源应被释放")
		}
	})

	t.Run("上下文取消触发释放", func(t *testing.T) {
		released := make(chan bool, 1)
		ctx, cancel := context.WithCancel(context.Background())

		obs := Create(func(observer Observer) Disposable {
			return NewDisposable(func() { released <- true })
		}, WithContext(ctx))

		obs.Subscribe(func(Item) {})
		cancel()

		select {
		case <-released:
		case <-time.After(time.Second):
			t.Error("上下文取消后资源应被释放")
		}
	})
}

// ============================================================================
// 工厂函数测试
// ============================================================================

func TestFactories(t *testing.T) {
	t.Run("Just同步发射后完成", func(t *testing.T) {
		rec := newRecording()
		Just(1, 2, 3).Subscribe(rec.Observer())

		if !reflect.DeepEqual(rec.Values(), []interface{}{1, 2, 3}) {
			t.Errorf("期望 [1 2 3], 得到 %v", rec.Values())
		}
		if !rec.Completed() {
			t.Error("Just应以完成终结")
		}
	})

	t.Run("Empty只发完成", func(t *testing.T) {
		rec := newRecording()
		Empty().Subscribe(rec.Observer())

		if len(rec.Values()) != 0 || !rec.Completed() {
			t.Errorf("Empty期望零值并完成, 得到 %v 完成%d次", rec.Values(), rec.Completions())
		}
	})

	t.Run("Never不发任何通知", func(t *testing.T) {
		rec := newRecording()
		sub := Never().Subscribe(rec.Observer())
		defer sub.Unsubscribe()

		if len(rec.Values()) != 0 || rec.Completed() || len(rec.Errors()) != 0 {
			t.Error("Never不应发出任何通知")
		}
	})

	t.Run("Error只发错误", func(t *testing.T) {
		boom := errors.New("构造的错误")
		rec := newRecording()
		Error(boom).Subscribe(rec.Observer())

		if !reflect.DeepEqual(rec.Errors(), []error{boom}) {
			t.Errorf("期望错误 [%v], 得到 %v", boom, rec.Errors())
		}
		if rec.Completed() {
			t.Error("Error不应完成")
		}
	})

	t.Run("Defer每次订阅重新构造", func(t *testing.T) {
		builds := 0
		obs := Defer(func() Observable {
			builds++
			return Just(builds)
		})

		if builds != 0 {
			t.Error("Defer构造时不应调用工厂")
		}

		first := newRecording()
		second := newRecording()
		obs.Subscribe(first.Observer())
		obs.Subscribe(second.Observer())

		if !reflect.DeepEqual(first.Values(), []interface{}{1}) || !reflect.DeepEqual(second.Values(), []interface{}{2}) {
			t.Errorf("Defer期望每次订阅独立构造, 得到 %v 与 %v", first.Values(), second.Values())
		}
	})

	t.Run("FromSlice发射切片元素", func(t *testing.T) {
		rec := newRecording()
		FromSlice([]interface{}{"甲", "乙"}).Subscribe(rec.Observer())

		if !reflect.DeepEqual(rec.Values(), []interface{}{"甲", "乙"}) {
			t.Errorf("期望 [甲 乙], 得到 %v", rec.Values())
		}
	})
}

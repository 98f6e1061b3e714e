// Factory functions for rxcore
// 工厂函数：Create原语与由它派生的零分支简单构造器
package rxcore

// ============================================================================
// Create 原语
// ============================================================================

// Create 从订阅函数创建Observable。订阅函数在每次Subscribe时同步地、
// 恰好一次地被调用，构造Observable值不产生任何副作用。
// 订阅函数返回的令牌被保留为订阅的释放句柄：在其中获取的资源（定时器、
// 注册句柄、上游订阅）必须从令牌可达，外部释放订阅才能连带释放它们
func Create(subscribeFn func(observer Observer) Disposable, options ...Option) Observable {
	if subscribeFn == nil {
		panic("rxcore: Create called with nil subscribe function")
	}

	return NewObservable(func(observer Observer) Subscription {
		token := subscribeFn(observer)
		if token == nil {
			token = EmptyDisposable()
		}
		return NewBaseSubscription(token)
	}, options...)
}

// ============================================================================
// 简单构造器
// ============================================================================

// Just 创建同步发射给定值序列然后完成的Observable
func Just(values ...interface{}) Observable {
	return Create(func(observer Observer) Disposable {
		for _, value := range values {
			observer(CreateItem(value))
		}
		observer(CreateCompleteItem())
		return EmptyDisposable()
	})
}

// Empty 创建不发射任何值、立即完成的Observable
func Empty() Observable {
	return Create(func(observer Observer) Disposable {
		observer(CreateCompleteItem())
		return EmptyDisposable()
	})
}

// Never 创建永不发射任何通知的Observable
func Never() Observable {
	return Create(func(observer Observer) Disposable {
		return EmptyDisposable()
	})
}

// Error 创建立即发射给定错误的Observable
func Error(err error) Observable {
	return Create(func(observer Observer) Disposable {
		observer(CreateErrorItem(err))
		return EmptyDisposable()
	})
}

// Defer 推迟到订阅时才构造底层Observable，每次订阅构造一个新的
func Defer(factory func() Observable) Observable {
	if factory == nil {
		panic("rxcore: Defer called with nil factory")
	}

	return NewObservable(func(observer Observer) Subscription {
		return factory().Subscribe(observer)
	})
}

// FromSlice 从切片创建同步发射的Observable
func FromSlice(slice []interface{}) Observable {
	return Create(func(observer Observer) Disposable {
		for _, value := range slice {
			observer(CreateItem(value))
		}
		observer(CreateCompleteItem())
		return EmptyDisposable()
	})
}

// Buffer operator family for rxcore
// 缓冲窗口操作符：按个数、个数+步长、时间、时间或个数、时间+位移、
// 边界序列、关闭选择器以及动态开启/关闭序列切分上游序列。
// 窗口状态由单个订阅独占，随终结或取消订阅一起销毁
package rxcore

import (
	"sync"
	"time"
)

// asDisposable 把订阅适配为可释放资源
func asDisposable(sub Subscription) Disposable {
	return NewDisposable(sub.Unsubscribe)
}

// ============================================================================
// 个数缓冲
// ============================================================================

// Buffer 将上游值按count个一组发射；上游完成时先发射非空的尾部残窗。
// count必须为正
func (o *observableImpl) Buffer(count int) Observable {
	return o.BufferWithSkip(count, count)
}

// BufferWithSkip 带步长的个数缓冲。每次发射后，下一个窗口只丢弃前skip个
// 元素的考虑资格而不是全部count个：skip < count时相邻窗口重叠
// count-skip个元素；skip == count时窗口首尾相接；skip > count时窗口之间
// 静默丢弃skip-count个元素。count与skip都必须为正。
// 实现取规范化的单队列形式：一个待定队列加一个丢弃倒数
func (o *observableImpl) BufferWithSkip(count, skip int) Observable {
	if count <= 0 {
		panic("rxcore: non-positive count for Buffer")
	}
	if skip <= 0 {
		panic("rxcore: non-positive skip for Buffer")
	}

	return NewObservable(func(observer Observer) Subscription {
		var mu sync.Mutex
		pending := make([]interface{}, 0, count)
		toDrop := 0

		return o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				var tail []interface{}
				if len(pending) > 0 {
					tail = pending
					pending = nil
				}
				mu.Unlock()

				if tail != nil {
					observer(CreateItem(tail))
				}
				observer(item)

			default:
				mu.Lock()
				if toDrop > 0 {
					toDrop--
					mu.Unlock()
					return
				}

				pending = append(pending, item.Value)
				var window []interface{}
				if len(pending) == count {
					window = pending
					removed := skip
					if removed > count {
						removed = count
					}
					pending = append(make([]interface{}, 0, count), pending[removed:]...)
					toDrop = skip - removed
				}
				mu.Unlock()

				if window != nil {
					observer(CreateItem(window))
				}
			}
		})
	})
}

// ============================================================================
// 时间缓冲
// ============================================================================

// BufferWithTime 每隔timespan发射一次累积的窗口。
// 零累积的边界滴答仍发射空窗口（既定策略，下游可自行过滤）；
// 上游完成时只补发非空残窗。timespan必须为正
func (o *observableImpl) BufferWithTime(timespan time.Duration, options ...Option) Observable {
	if timespan <= 0 {
		panic("rxcore: non-positive timespan for BufferWithTime")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		var mu sync.Mutex
		buffer := make([]interface{}, 0)

		resources := NewCompositeDisposable()
		resources.Add(scheduler.SchedulePeriodic(func() {
			mu.Lock()
			window := buffer
			buffer = make([]interface{}, 0)
			mu.Unlock()

			observer(CreateItem(window))
		}, timespan, timespan))

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				var tail []interface{}
				if len(buffer) > 0 {
					tail = buffer
					buffer = nil
				}
				mu.Unlock()

				if tail != nil {
					observer(CreateItem(tail))
				}
				observer(item)

			default:
				mu.Lock()
				buffer = append(buffer, item.Value)
				mu.Unlock()
			}
		})
		resources.Add(asDisposable(sub))

		return NewBaseSubscription(resources)
	})
}

// BufferWithTimeOrCount 当窗口存满count个值或开窗后经过timespan时发射，
// 以先到者为准。任一路触发发射后都开启带全新计时的新窗口，
// 过期窗口的滴答通过窗口序号判别并丢弃
func (o *observableImpl) BufferWithTimeOrCount(timespan time.Duration, count int, options ...Option) Observable {
	if timespan <= 0 {
		panic("rxcore: non-positive timespan for BufferWithTimeOrCount")
	}
	if count <= 0 {
		panic("rxcore: non-positive count for BufferWithTimeOrCount")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		var mu sync.Mutex
		buffer := make([]interface{}, 0, count)
		windowID := 0
		timers := NewSerialDisposable()

		var flushByTime func(id int)

		// openWindow 必须持有mu调用
		openWindow := func() {
			windowID++
			id := windowID
			timers.Set(scheduler.ScheduleWithDelay(func() { flushByTime(id) }, timespan))
		}

		flushByTime = func(id int) {
			mu.Lock()
			if id != windowID {
				mu.Unlock()
				return
			}
			window := buffer
			buffer = make([]interface{}, 0, count)
			openWindow()
			mu.Unlock()

			observer(CreateItem(window))
		}

		mu.Lock()
		openWindow()
		mu.Unlock()

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				var tail []interface{}
				if len(buffer) > 0 {
					tail = buffer
					buffer = nil
				}
				mu.Unlock()

				if tail != nil {
					observer(CreateItem(tail))
				}
				observer(item)

			default:
				mu.Lock()
				buffer = append(buffer, item.Value)
				var window []interface{}
				if len(buffer) == count {
					window = buffer
					buffer = make([]interface{}, 0, count)
					openWindow()
				}
				mu.Unlock()

				if window != nil {
					observer(CreateItem(window))
				}
			}
		})

		return NewBaseSubscription(NewCompositeDisposable(timers, asDisposable(sub)))
	})
}

// timeWindow 时移缓冲中的一个在开窗口
type timeWindow struct {
	values []interface{}
	closer Disposable
}

// BufferWithTimeShift 订阅时以及此后每隔timeshift开启一个新窗口，
// 每个窗口在开启timespan之后关闭并发射。timeshift < timespan时多个窗口
// 并发存在；相等时窗口首尾相接；更大时窗口之间的值被丢弃。
// 同一时刻的关窗先于开窗执行（关窗任务在开窗时先入队）。
// 上游完成时按开窗顺序发射所有在开窗口
func (o *observableImpl) BufferWithTimeShift(timespan, timeshift time.Duration, options ...Option) Observable {
	if timespan <= 0 {
		panic("rxcore: non-positive timespan for BufferWithTimeShift")
	}
	if timeshift <= 0 {
		panic("rxcore: non-positive timeshift for BufferWithTimeShift")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		scheduler := config.schedulerOf()
		var mu sync.Mutex
		windows := make([]*timeWindow, 0, 1)
		resources := NewCompositeDisposable()

		closeWindow := func(w *timeWindow) {
			mu.Lock()
			found := false
			for i, open := range windows {
				if open == w {
					windows = append(windows[:i], windows[i+1:]...)
					found = true
					break
				}
			}
			mu.Unlock()

			if found {
				observer(CreateItem(w.values))
				resources.Remove(w.closer)
			}
		}

		openWindow := func() {
			w := &timeWindow{values: make([]interface{}, 0)}
			mu.Lock()
			windows = append(windows, w)
			w.closer = scheduler.ScheduleWithDelay(func() { closeWindow(w) }, timespan)
			mu.Unlock()
			resources.Add(w.closer)
		}

		openWindow()
		resources.Add(scheduler.SchedulePeriodic(openWindow, timeshift, timeshift))

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				remaining := windows
				windows = nil
				mu.Unlock()

				for _, w := range remaining {
					observer(CreateItem(w.values))
				}
				observer(item)

			default:
				mu.Lock()
				for _, w := range windows {
					w.values = append(w.values, item.Value)
				}
				mu.Unlock()
			}
		})
		resources.Add(asDisposable(sub))

		return NewBaseSubscription(resources)
	})
}

// ============================================================================
// 序列驱动的缓冲
// ============================================================================

// BufferWithBoundary 边界序列每发射一个值就冲刷当前窗口并开启新窗口
// （空窗口照常发射）。上游完成或边界序列完成都先补发非空残窗再完成；
// 任一侧的错误立即传播
func (o *observableImpl) BufferWithBoundary(boundary Observable) Observable {
	if boundary == nil {
		panic("rxcore: nil boundary for BufferWithBoundary")
	}

	return NewObservable(func(observer Observer) Subscription {
		var mu sync.Mutex
		buffer := make([]interface{}, 0)

		finish := func(item Item) {
			mu.Lock()
			var tail []interface{}
			if len(buffer) > 0 {
				tail = buffer
				buffer = nil
			}
			mu.Unlock()

			if tail != nil {
				observer(CreateItem(tail))
			}
			observer(item)
		}

		boundarySub := boundary.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				finish(CreateCompleteItem())

			default:
				mu.Lock()
				window := buffer
				buffer = make([]interface{}, 0)
				mu.Unlock()

				observer(CreateItem(window))
			}
		})

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				finish(item)

			default:
				mu.Lock()
				buffer = append(buffer, item.Value)
				mu.Unlock()
			}
		})

		return NewBaseSubscription(NewCompositeDisposable(asDisposable(boundarySub), asDisposable(sub)))
	})
}

// BufferWithClosingSelector 每个窗口开始时调用closingSelector取得一条
// 关闭序列，它产生首个值或完成时当前窗口发射并立即开启下一个窗口。
// 关闭序列的错误立即传播
func (o *observableImpl) BufferWithClosingSelector(closingSelector func() Observable) Observable {
	if closingSelector == nil {
		panic("rxcore: nil closing selector for BufferWithClosingSelector")
	}

	return NewObservable(func(observer Observer) Subscription {
		var mu sync.Mutex
		buffer := make([]interface{}, 0)
		windowID := 0
		closings := NewSerialDisposable()

		var openWindow func()

		closeWindow := func(id int) {
			mu.Lock()
			if id != windowID {
				mu.Unlock()
				return
			}
			window := buffer
			buffer = make([]interface{}, 0)
			mu.Unlock()

			observer(CreateItem(window))
			openWindow()
		}

		openWindow = func() {
			mu.Lock()
			windowID++
			id := windowID
			mu.Unlock()

			closing := closingSelector()
			closings.Set(asDisposable(closing.Subscribe(func(item Item) {
				if item.IsError() {
					observer(item)
					return
				}
				// 关闭序列的首个值与完成同样都关闭当前窗口
				closeWindow(id)
			})))
		}

		openWindow()

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				var tail []interface{}
				if len(buffer) > 0 {
					tail = buffer
					buffer = nil
				}
				mu.Unlock()

				if tail != nil {
					observer(CreateItem(tail))
				}
				observer(item)

			default:
				mu.Lock()
				buffer = append(buffer, item.Value)
				mu.Unlock()
			}
		})

		return NewBaseSubscription(NewCompositeDisposable(closings, asDisposable(sub)))
	})
}

// openedWindow 动态开启缓冲中的一个在开窗口
type openedWindow struct {
	values []interface{}
	closer Disposable
}

// BufferWhen 动态的、可重叠的开窗/关窗：openings每发射一个值就开启一个
// 窗口，该窗口由closingSelector(开启值)返回的序列独立关闭，窗口之间互不
// 影响。openings完成只停止开启新窗口，在开窗口照常存续。
// 开启事件与源值同刻到达时，归属由调度器的出队顺序裁决（虚拟时间调度器
// 按入队顺序执行同刻任务），这是既定的排序规则而非数据竞争。
// 上游完成时按开窗顺序发射所有在开窗口
func (o *observableImpl) BufferWhen(openings Observable, closingSelector func(opening interface{}) Observable) Observable {
	if openings == nil {
		panic("rxcore: nil openings for BufferWhen")
	}
	if closingSelector == nil {
		panic("rxcore: nil closing selector for BufferWhen")
	}

	return NewObservable(func(observer Observer) Subscription {
		var mu sync.Mutex
		windows := make([]*openedWindow, 0)
		resources := NewCompositeDisposable()

		closeWindow := func(w *openedWindow) {
			mu.Lock()
			found := false
			for i, open := range windows {
				if open == w {
					windows = append(windows[:i], windows[i+1:]...)
					found = true
					break
				}
			}
			mu.Unlock()

			if found {
				observer(CreateItem(w.values))
				resources.Remove(w.closer)
			}
		}

		openingsSub := openings.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				// 不再开启新窗口，既有窗口自行关闭

			default:
				w := &openedWindow{values: make([]interface{}, 0)}
				mu.Lock()
				windows = append(windows, w)
				mu.Unlock()

				closing := closingSelector(item.Value)
				w.closer = asDisposable(closing.Subscribe(func(closeItem Item) {
					if closeItem.IsError() {
						observer(closeItem)
						return
					}
					closeWindow(w)
				}))
				resources.Add(w.closer)
			}
		})
		resources.Add(asDisposable(openingsSub))

		sub := o.Subscribe(func(item Item) {
			switch {
			case item.IsError():
				observer(item)

			case item.IsComplete():
				mu.Lock()
				remaining := windows
				windows = nil
				mu.Unlock()

				for _, w := range remaining {
					observer(CreateItem(w.values))
				}
				observer(item)

			default:
				mu.Lock()
				for _, w := range windows {
					w.values = append(w.values, item.Value)
				}
				mu.Unlock()
			}
		})
		resources.Add(asDisposable(sub))

		return NewBaseSubscription(resources)
	})
}

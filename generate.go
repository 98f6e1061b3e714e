// Generator engine for rxcore
// 余递归展开：从(种子, 继续谓词, 状态推进, 投影, 可选步进延迟)
// 增量地生产可能无限的序列，每一步经由调度器，步与步之间随时可取消
package rxcore

import (
	"sync"
	"time"
)

// ============================================================================
// Generate 原语
// ============================================================================

// TimeSelector 依据当前状态决定下一次生产前的延迟
type TimeSelector func(state interface{}) time.Duration

// Generate 余递归地生产序列：状态从seed出发，condition成立时经调度器
// 生产project(state)并推进state = iterate(state)，condition失效时完成
func Generate(seed interface{}, condition Predicate, iterate func(state interface{}) interface{}, project Transformer, options ...Option) Observable {
	return generateObservable(seed, condition, iterate, project, nil, options)
}

// GenerateWithTime 带步进延迟的Generate：每次生产前等待timeSelector(state)
func GenerateWithTime(seed interface{}, condition Predicate, iterate func(state interface{}) interface{}, project Transformer, timeSelector TimeSelector, options ...Option) Observable {
	if timeSelector == nil {
		panic("rxcore: GenerateWithTime called with nil time selector")
	}
	return generateObservable(seed, condition, iterate, project, timeSelector, options)
}

// generateObservable 构建生成器Observable
func generateObservable(seed interface{}, condition Predicate, iterate func(state interface{}) interface{}, project Transformer, timeSelector TimeSelector, options []Option) Observable {
	if condition == nil {
		panic("rxcore: Generate called with nil condition")
	}
	if iterate == nil {
		panic("rxcore: Generate called with nil iterate")
	}
	if project == nil {
		panic("rxcore: Generate called with nil project")
	}

	config := applyOptions(options)

	return NewObservable(func(observer Observer) Subscription {
		runner := &generateRunner{
			scheduler:    config.schedulerOf(),
			observer:     observer,
			state:        seed,
			condition:    condition,
			iterate:      iterate,
			project:      project,
			timeSelector: timeSelector,
		}
		runner.next()
		return NewBaseSubscription(runner)
	}, options...)
}

// ============================================================================
// 生成器执行体
// ============================================================================

// generateRunner 单次订阅独占的生成器状态。状态只在串行的调度步内被读写，
// 下一步总是在上一步结束后才被调度，因此无须额外保护state本身
type generateRunner struct {
	mu      sync.Mutex
	stopped bool
	current Disposable

	scheduler    Scheduler
	observer     Observer
	state        interface{}
	condition    Predicate
	iterate      func(state interface{}) interface{}
	project      Transformer
	timeSelector TimeSelector
}

// next 评估谓词并调度下一次生产；谓词失效即完成
func (g *generateRunner) next() {
	if g.isStopped() {
		return
	}

	if !g.condition(g.state) {
		g.observer(CreateCompleteItem())
		return
	}

	var delay time.Duration
	if g.timeSelector != nil {
		delay = g.timeSelector(g.state)
	}
	g.arm(delay)
}

// arm 持锁调度，保证取消与步进链的衔接不竞争
func (g *generateRunner) arm(delay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return
	}
	g.current = g.scheduler.ScheduleWithDelay(g.step, delay)
}

// step 生产一个元素并推进状态
func (g *generateRunner) step() {
	if g.isStopped() {
		return
	}

	value, err := g.project(g.state)
	if err != nil {
		g.observer(CreateErrorItem(err))
		return
	}

	g.observer(CreateItem(value))
	g.state = g.iterate(g.state)
	g.next()
}

// isStopped 检查生成器是否已停止
func (g *generateRunner) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Dispose 停止生成器；已调度而未执行的下一步不再运行
func (g *generateRunner) Dispose() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	current := g.current
	g.current = nil
	g.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查生成器是否已停止
func (g *generateRunner) IsDisposed() bool {
	return g.isStopped()
}

// ============================================================================
// Generate 的常用参数化
// ============================================================================

// Range 发射[start, start+count)的整数序列
func Range(start, count int, options ...Option) Observable {
	if count < 0 {
		panic("rxcore: negative count for Range")
	}

	end := start + count
	return Generate(start,
		func(state interface{}) bool { return state.(int) < end },
		func(state interface{}) interface{} { return state.(int) + 1 },
		func(state interface{}) (interface{}, error) { return state, nil },
		options...)
}

// Interval 每隔period发射一个递增整数，从0开始，首个值在period之后
func Interval(period time.Duration, options ...Option) Observable {
	if period <= 0 {
		panic("rxcore: non-positive period for Interval")
	}

	return GenerateWithTime(0,
		func(interface{}) bool { return true },
		func(state interface{}) interface{} { return state.(int) + 1 },
		func(state interface{}) (interface{}, error) { return state, nil },
		func(interface{}) time.Duration { return period },
		options...)
}

// Timer 在delay之后发射单个0然后完成
func Timer(delay time.Duration, options ...Option) Observable {
	if delay < 0 {
		panic("rxcore: negative delay for Timer")
	}

	return GenerateWithTime(0,
		func(state interface{}) bool { return state.(int) == 0 },
		func(state interface{}) interface{} { return state.(int) + 1 },
		func(state interface{}) (interface{}, error) { return state, nil },
		func(interface{}) time.Duration { return delay },
		options...)
}

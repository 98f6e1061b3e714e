// Disposable resource composition for rxcore
// 可释放资源的组合管理：订阅期间获取的每一份资源都挂接到这里，
// 保证在任何退出路径上恰好释放一次
package rxcore

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Disposable 基础接口与实现
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，幂等且可并发调用
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewDisposable 从释放动作创建可释放资源
func NewDisposable(action func()) Disposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			runDisposeAction(d.action)
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// emptyDisposable 无资源可释放的占位实现
type emptyDisposable struct{}

func (emptyDisposable) Dispose()         {}
func (emptyDisposable) IsDisposed() bool { return true }

// EmptyDisposable 创建无资源的可释放占位
func EmptyDisposable() Disposable {
	return emptyDisposable{}
}

// ============================================================================
// 释放失败的上报通道
// ============================================================================

// DisposeErrorHandler 释放动作失败时的上报函数。
// 失败被上报而不是吞掉，同时不阻止兄弟资源继续释放。
var DisposeErrorHandler = func(recovered interface{}) {}

// SetDisposeErrorHandler 替换释放失败上报函数，返回旧的函数
func SetDisposeErrorHandler(handler func(recovered interface{})) func(interface{}) {
	old := DisposeErrorHandler
	if handler == nil {
		handler = func(interface{}) {}
	}
	DisposeErrorHandler = handler
	return old
}

// runDisposeAction 执行释放动作并捕获panic上报
func runDisposeAction(action func()) {
	defer func() {
		if r := recover(); r != nil {
			DisposeErrorHandler(r)
		}
	}()

	action()
}

// ============================================================================
// CompositeDisposable 组合式资源管理器
// ============================================================================

// CompositeDisposable 组合式资源管理器：释放组合即释放全部成员，
// 恰好一次，与释放顺序和并发释放尝试无关
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable(disposables ...Disposable) *CompositeDisposable {
	return &CompositeDisposable{
		resources: append([]Disposable(nil), disposables...),
	}
}

// Add 添加可释放资源；组合已释放时，新成员被立即释放
func (cd *CompositeDisposable) Add(disposable Disposable) {
	if disposable == nil {
		return
	}

	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return
	}
	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
}

// Remove 移除并释放一个成员；成员不在组合内时无副作用
func (cd *CompositeDisposable) Remove(disposable Disposable) {
	if disposable == nil {
		return
	}

	cd.mu.Lock()
	for i, resource := range cd.resources {
		if resource == disposable {
			cd.resources = append(cd.resources[:i], cd.resources[i+1:]...)
			cd.mu.Unlock()
			disposable.Dispose()
			return
		}
	}
	cd.mu.Unlock()
}

// Dispose 释放所有成员。单个成员释放失败通过DisposeErrorHandler上报，
// 不影响其余成员的释放。重复释放是无害的空操作
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	// 在锁外释放成员，允许释放动作自身触碰组合
	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// Len 当前持有的成员数量
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// ============================================================================
// SerialDisposable 串行可释放资源
// ============================================================================

// SerialDisposable 至多持有一个内部资源；替换时先释放旧资源。
// 用于需要反复重置定时器的操作符（Throttle、Timeout、Generate的步进链）
type SerialDisposable struct {
	mu       sync.Mutex
	disposed bool
	current  Disposable
}

// NewSerialDisposable 创建串行可释放资源
func NewSerialDisposable() *SerialDisposable {
	return &SerialDisposable{}
}

// Set 替换内部资源并释放旧资源；自身已释放时新资源被立即释放
func (sd *SerialDisposable) Set(disposable Disposable) {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		if disposable != nil {
			disposable.Dispose()
		}
		return
	}
	old := sd.current
	sd.current = disposable
	sd.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
}

// Dispose 释放当前资源以及之后任何被Set进来的资源
func (sd *SerialDisposable) Dispose() {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		return
	}
	sd.disposed = true
	current := sd.current
	sd.current = nil
	sd.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (sd *SerialDisposable) IsDisposed() bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.disposed
}

// ============================================================================
// SingleAssignmentDisposable 单次赋值可释放资源
// ============================================================================

// SingleAssignmentDisposable 至多接受一次赋值；释放先于赋值发生时，
// 被赋进来的资源立即释放。用于订阅期间先获取资源、后接线到订阅令牌的场景
type SingleAssignmentDisposable struct {
	mu       sync.Mutex
	disposed bool
	assigned bool
	current  Disposable
}

// NewSingleAssignmentDisposable 创建单次赋值可释放资源
func NewSingleAssignmentDisposable() *SingleAssignmentDisposable {
	return &SingleAssignmentDisposable{}
}

// Set 赋值内部资源，重复赋值会panic
func (sa *SingleAssignmentDisposable) Set(disposable Disposable) {
	sa.mu.Lock()
	if sa.assigned {
		sa.mu.Unlock()
		panic("rxcore: SingleAssignmentDisposable set twice")
	}
	sa.assigned = true
	if sa.disposed {
		sa.mu.Unlock()
		if disposable != nil {
			disposable.Dispose()
		}
		return
	}
	sa.current = disposable
	sa.mu.Unlock()
}

// Dispose 释放资源
func (sa *SingleAssignmentDisposable) Dispose() {
	sa.mu.Lock()
	if sa.disposed {
		sa.mu.Unlock()
		return
	}
	sa.disposed = true
	current := sa.current
	sa.current = nil
	sa.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (sa *SingleAssignmentDisposable) IsDisposed() bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.disposed
}

// Disposable tests for rxcore
// 可释放资源的测试：幂等释放、组合释放、串行替换与单次赋值
package rxcore

import (
	"sync"
	"sync/atomic"
	"testing"
)

// ============================================================================
// 基础Disposable测试
// ============================================================================

func TestBaseDisposable(t *testing.T) {
	t.Run("释放动作恰好执行一次", func(t *testing.T) {
		count := 0
		d := NewDisposable(func() { count++ })

		if d.IsDisposed() {
			t.Error("新建的Disposable不应处于已释放状态")
		}

		d.Dispose()
		d.Dispose()
		d.Dispose()

		if count != 1 {
			t.Errorf("期望释放动作执行1次, 得到 %d", count)
		}
		if !d.IsDisposed() {
			t.Error("释放后应处于已释放状态")
		}
	})

	t.Run("并发释放仍恰好执行一次", func(t *testing.T) {
		var count int32
		d := NewDisposable(func() { atomic.AddInt32(&count, 1) })

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Dispose()
			}()
		}
		wg.Wait()

		if got := atomic.LoadInt32(&count); got != 1 {
			t.Errorf("期望释放动作执行1次, 得到 %d", got)
		}
	})

	t.Run("空Disposable始终已释放", func(t *testing.T) {
		d := EmptyDisposable()
		if !d.IsDisposed() {
			t.Error("空Disposable应始终处于已释放状态")
		}
		d.Dispose()
	})
}

// ============================================================================
// CompositeDisposable测试
// ============================================================================

func TestCompositeDisposable(t *testing.T) {
	t.Run("释放时成员全部被释放", func(t *testing.T) {
		released := []int{}
		cd := NewCompositeDisposable(
			NewDisposable(func() { released = append(released, 1) }),
			NewDisposable(func() { released = append(released, 2) }),
		)
		cd.Add(NewDisposable(func() { released = append(released, 3) }))

		if cd.Len() != 3 {
			t.Errorf("期望3个成员, 得到 %d", cd.Len())
		}

		cd.Dispose()

		if len(released) != 3 {
			t.Errorf("期望释放3个成员, 得到 %d", len(released))
		}
		if !cd.IsDisposed() {
			t.Error("释放后应处于已释放状态")
		}
	})

	t.Run("重复释放不重复执行成员动作", func(t *testing.T) {
		count := 0
		cd := NewCompositeDisposable(NewDisposable(func() { count++ }))

		cd.Dispose()
		cd.Dispose()

		if count != 1 {
			t.Errorf("期望成员只释放1次, 得到 %d", count)
		}
	})

	t.Run("释放后加入的成员被立即释放", func(t *testing.T) {
		cd := NewCompositeDisposable()
		cd.Dispose()

		late := NewDisposable(func() {})
		cd.Add(late)

		if !late.IsDisposed() {
			t.Error("释放后加入的成员应被立即释放")
		}
		if cd.Len() != 0 {
			t.Errorf("已释放的组合不应保留成员, 得到 %d", cd.Len())
		}
	})

	t.Run("Remove摘除并释放成员", func(t *testing.T) {
		member := NewDisposable(func() {})
		cd := NewCompositeDisposable(member)

		cd.Remove(member)

		if !member.IsDisposed() {
			t.Error("被摘除的成员应被释放")
		}
		if cd.Len() != 0 {
			t.Errorf("摘除后不应保留成员, 得到 %d", cd.Len())
		}
		if cd.IsDisposed() {
			t.Error("摘除成员不应释放组合本身")
		}
	})

	t.Run("成员释放动作恐慌不阻断其他成员", func(t *testing.T) {
		var recovered interface{}
		restore := SetDisposeErrorHandler(func(r interface{}) { recovered = r })
		defer SetDisposeErrorHandler(restore)

		siblingReleased := false
		cd := NewCompositeDisposable(
			NewDisposable(func() { panic("释放失败") }),
			NewDisposable(func() { siblingReleased = true }),
		)

		cd.Dispose()

		if !siblingReleased {
			t.Error("同组的其他成员应照常释放")
		}
		if recovered != "释放失败" {
			t.Errorf("期望捕获恐慌值 释放失败, 得到 %v", recovered)
		}
	})
}

// ============================================================================
// SerialDisposable测试
// ============================================================================

func TestSerialDisposable(t *testing.T) {
	t.Run("Set新值时释放旧值", func(t *testing.T) {
		sd := NewSerialDisposable()

		first := NewDisposable(func() {})
		second := NewDisposable(func() {})

		sd.Set(first)
		sd.Set(second)

		if !first.IsDisposed() {
			t.Error("被替换的旧值应被释放")
		}
		if second.IsDisposed() {
			t.Error("新值不应被释放")
		}
	})

	t.Run("释放后Set的值被立即释放", func(t *testing.T) {
		sd := NewSerialDisposable()
		current := NewDisposable(func() {})
		sd.Set(current)

		sd.Dispose()

		if !current.IsDisposed() {
			t.Error("释放时当前值应被释放")
		}

		late := NewDisposable(func() {})
		sd.Set(late)

		if !late.IsDisposed() {
			t.Error("释放后Set的值应被立即释放")
		}
	})
}

// ============================================================================
// SingleAssignmentDisposable测试
// ============================================================================

func TestSingleAssignmentDisposable(t *testing.T) {
	t.Run("先Set后Dispose释放所持有值", func(t *testing.T) {
		sa := NewSingleAssignmentDisposable()
		inner := NewDisposable(func() {})

		sa.Set(inner)
		sa.Dispose()

		if !inner.IsDisposed() {
			t.Error("持有值应随容器释放")
		}
	})

	t.Run("先Dispose后Set立即释放来值", func(t *testing.T) {
		sa := NewSingleAssignmentDisposable()
		sa.Dispose()

		inner := NewDisposable(func() {})
		sa.Set(inner)

		if !inner.IsDisposed() {
			t.Error("释放后Set的值应被立即释放")
		}
	})

	t.Run("重复Set触发恐慌", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("重复Set应触发恐慌")
			}
		}()

		sa := NewSingleAssignmentDisposable()
		sa.Set(NewDisposable(func() {}))
		sa.Set(NewDisposable(func() {}))
	})
}

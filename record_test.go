// Recording observer for rxcore tests
// 测试用的记录观察者：按顺序收录通知，可选地在虚拟时间轴上打戳
package rxcore

import (
	"sync"
	"time"
)

// recording 线程安全的通知记录器
type recording struct {
	mu         sync.Mutex
	scheduler  *VirtualTimeScheduler
	values     []interface{}
	valueTimes []time.Duration
	errs       []error
	completes  int
	terminalAt time.Duration
}

// newRecording 创建记录器
func newRecording() *recording {
	return &recording{}
}

// newTimedRecording 创建在虚拟时间轴上打戳的记录器
func newTimedRecording(scheduler *VirtualTimeScheduler) *recording {
	return &recording{scheduler: scheduler}
}

// now 当前虚拟时刻相对纪元的偏移
func (r *recording) now() time.Duration {
	if r.scheduler == nil {
		return 0
	}
	return r.scheduler.Now().Sub(time.Unix(0, 0).UTC())
}

// Observer 返回记录观察者函数
func (r *recording) Observer() Observer {
	return func(item Item) {
		r.mu.Lock()
		defer r.mu.Unlock()

		switch {
		case item.IsError():
			r.errs = append(r.errs, item.Error)
			r.terminalAt = r.now()
		case item.IsComplete():
			r.completes++
			r.terminalAt = r.now()
		default:
			r.values = append(r.values, item.Value)
			r.valueTimes = append(r.valueTimes, r.now())
		}
	}
}

// Values 已收录的值
func (r *recording) Values() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.values...)
}

// ValueTimes 各值的虚拟时刻
func (r *recording) ValueTimes() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.valueTimes...)
}

// Errors 已收录的错误
func (r *recording) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Completions 完成通知的次数
func (r *recording) Completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

// Completed 是否收到过完成通知
func (r *recording) Completed() bool {
	return r.Completions() > 0
}

// TerminalTime 终结通知的虚拟时刻
func (r *recording) TerminalTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminalAt
}

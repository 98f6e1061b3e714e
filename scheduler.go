// Scheduler implementations for rxcore
// 调度器系统：把"等待"表达为被调度的回调而不是阻塞，
// 提供真实时间与虚拟时间两种实现
package rxcore

import (
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制动作的执行时机。
// 所有时间窗口操作符通过该抽象取得定时能力，从不直接持有宿主定时器，
// 因此可以注入虚拟时间调度器做确定性测试
type Scheduler interface {
	// Now 当前时间戳
	Now() time.Time

	// Schedule 尽快调度一个动作
	Schedule(action func()) Disposable

	// ScheduleWithDelay 延迟指定时长后调度动作
	ScheduleWithDelay(action func(), delay time.Duration) Disposable

	// ScheduleAt 在绝对时间点调度动作
	ScheduleAt(action func(), due time.Time) Disposable

	// SchedulePeriodic 先延迟initialDelay再以period为周期反复调度动作，
	// 通过每次执行后重新调度派生，period必须为正
	SchedulePeriodic(action func(), initialDelay, period time.Duration) Disposable
}

// ============================================================================
// 真实时间调度器
// ============================================================================

// timerScheduler 基于宿主定时器的真实时间调度器
type timerScheduler struct{}

// NewTimerScheduler 创建真实时间调度器
func NewTimerScheduler() Scheduler {
	return &timerScheduler{}
}

// Now 当前时间戳
func (s *timerScheduler) Now() time.Time {
	return time.Now()
}

// Schedule 尽快调度动作
func (s *timerScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithDelay(action, 0)
}

// timerTask 单次调度任务的取消状态
const (
	taskPending int32 = iota
	taskRunning
	taskDone
	taskCanceled
)

// timerTask 真实时间下的单次调度任务。
// 取消与触发通过CAS竞争：二者恰有其一胜出，动作运行与被压制不可兼得
type timerTask struct {
	state int32
	timer *time.Timer
}

// Dispose 取消任务；动作已在运行时不打断，但保证不再有后续触发
func (t *timerTask) Dispose() {
	if atomic.CompareAndSwapInt32(&t.state, taskPending, taskCanceled) {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
}

// IsDisposed 检查任务是否已结束或被取消
func (t *timerTask) IsDisposed() bool {
	state := atomic.LoadInt32(&t.state)
	return state == taskDone || state == taskCanceled
}

// ScheduleWithDelay 延迟调度动作
func (s *timerScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if delay < 0 {
		delay = 0
	}

	task := &timerTask{}
	task.timer = time.AfterFunc(delay, func() {
		if atomic.CompareAndSwapInt32(&task.state, taskPending, taskRunning) {
			action()
			atomic.StoreInt32(&task.state, taskDone)
		}
	})

	return task
}

// ScheduleAt 在绝对时间点调度动作
func (s *timerScheduler) ScheduleAt(action func(), due time.Time) Disposable {
	return s.ScheduleWithDelay(action, time.Until(due))
}

// SchedulePeriodic 周期性调度动作
func (s *timerScheduler) SchedulePeriodic(action func(), initialDelay, period time.Duration) Disposable {
	return schedulePeriodic(s, action, initialDelay, period)
}

// ============================================================================
// 周期调度的派生实现
// ============================================================================

// periodicRunner 通过每次执行后重新调度派生出周期调度，
// 对真实时间与虚拟时间调度器一视同仁
type periodicRunner struct {
	mu        sync.Mutex
	stopped   bool
	current   Disposable
	scheduler Scheduler
	action    func()
	period    time.Duration
}

// schedulePeriodic 启动周期调度
func schedulePeriodic(scheduler Scheduler, action func(), initialDelay, period time.Duration) Disposable {
	if period <= 0 {
		panic("rxcore: non-positive period for SchedulePeriodic")
	}

	runner := &periodicRunner{
		scheduler: scheduler,
		action:    action,
		period:    period,
	}
	runner.arm(initialDelay)
	return runner
}

// arm 调度下一次执行
func (p *periodicRunner) arm(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	// 上一个句柄已经触发完毕，覆盖即可
	p.current = p.scheduler.ScheduleWithDelay(p.step, delay)
}

// step 执行一个周期并重新调度
func (p *periodicRunner) step() {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	p.action()
	p.arm(p.period)
}

// Dispose 停止周期调度
func (p *periodicRunner) Dispose() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查周期调度是否已停止
func (p *periodicRunner) IsDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ============================================================================
// 虚拟时间调度器
// ============================================================================

// virtualTask 虚拟时间下的调度任务，按(到期时间, 入队序号)全序排列
type virtualTask struct {
	due      time.Time
	seq      int64
	action   func()
	canceled int32
	owner    *VirtualTimeScheduler
}

// Dispose 取消尚未执行的任务
func (t *virtualTask) Dispose() {
	if atomic.CompareAndSwapInt32(&t.canceled, 0, 1) {
		t.owner.remove(t)
	}
}

// IsDisposed 检查任务是否已取消
func (t *virtualTask) IsDisposed() bool {
	return atomic.LoadInt32(&t.canceled) == 1
}

// VirtualTimeScheduler 虚拟时间调度器：时间只在被显式推进时流动，
// 任务严格按(到期时间, 入队顺序)执行。同一时刻的平局按入队顺序裁决，
// 这也是动态缓冲窗口"开启事件与源值同刻到达"时有据可查的排序规则
type VirtualTimeScheduler struct {
	mu    sync.Mutex
	clock time.Time
	seq   int64
	queue []*virtualTask
}

// NewVirtualTimeScheduler 创建虚拟时间调度器，时钟从Unix零点起步
func NewVirtualTimeScheduler() *VirtualTimeScheduler {
	return &VirtualTimeScheduler{
		clock: time.Unix(0, 0).UTC(),
	}
}

// Now 当前虚拟时间
func (s *VirtualTimeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Schedule 在当前虚拟时刻调度动作
func (s *VirtualTimeScheduler) Schedule(action func()) Disposable {
	s.mu.Lock()
	due := s.clock
	s.mu.Unlock()
	return s.ScheduleAt(action, due)
}

// ScheduleWithDelay 延迟调度动作
func (s *VirtualTimeScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	due := s.clock.Add(delay)
	s.mu.Unlock()
	return s.ScheduleAt(action, due)
}

// ScheduleAt 在绝对虚拟时间点调度动作
func (s *VirtualTimeScheduler) ScheduleAt(action func(), due time.Time) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	task := &virtualTask{
		due:    due,
		seq:    s.seq,
		action: action,
		owner:  s,
	}

	// 插入到所有 due <= task.due 的任务之后，保持平局的入队顺序
	index := len(s.queue)
	for i, existing := range s.queue {
		if task.due.Before(existing.due) {
			index = i
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[index+1:], s.queue[index:])
	s.queue[index] = task

	return task
}

// SchedulePeriodic 周期性调度动作
func (s *VirtualTimeScheduler) SchedulePeriodic(action func(), initialDelay, period time.Duration) Disposable {
	return schedulePeriodic(s, action, initialDelay, period)
}

// AdvanceTimeBy 将虚拟时间推进指定时长，途中到期的任务按序执行
func (s *VirtualTimeScheduler) AdvanceTimeBy(duration time.Duration) {
	s.mu.Lock()
	target := s.clock.Add(duration)
	s.mu.Unlock()
	s.AdvanceTimeTo(target)
}

// AdvanceTimeTo 将虚拟时间推进到指定时刻。执行某个任务前时钟先被拨到
// 它的到期时间，因此任务内继续调度的后续任务若仍在推进范围内会在同一次
// 推进中执行
func (s *VirtualTimeScheduler) AdvanceTimeTo(target time.Time) {
	s.mu.Lock()
	for {
		if len(s.queue) == 0 || s.queue[0].due.After(target) {
			break
		}

		task := s.queue[0]
		s.queue = s.queue[1:]
		if task.due.After(s.clock) {
			s.clock = task.due
		}

		// 解锁执行，允许任务调度新任务或取消既有任务
		s.mu.Unlock()
		if atomic.LoadInt32(&task.canceled) == 0 {
			task.action()
		}
		s.mu.Lock()
	}

	if target.After(s.clock) {
		s.clock = target
	}
	s.mu.Unlock()
}

// PendingCount 尚未执行的任务数量
func (s *VirtualTimeScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// remove 从队列中摘除已取消的任务
func (s *VirtualTimeScheduler) remove(task *virtualTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, queued := range s.queue {
		if queued == task {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// ============================================================================
// 默认调度器与选项
// ============================================================================

// DefaultScheduler 默认调度器，未显式注入时由时间窗口操作符使用
var DefaultScheduler Scheduler = NewTimerScheduler()

// WithScheduler 创建使用指定调度器的选项，仅对当次调用生效
func WithScheduler(scheduler Scheduler) Option {
	return &schedulerOption{scheduler: scheduler}
}

// schedulerOption 调度器选项
type schedulerOption struct {
	scheduler Scheduler
}

// Apply 应用调度器选项
func (o *schedulerOption) Apply(config *Config) {
	config.Scheduler = o.scheduler
}

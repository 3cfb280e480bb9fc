package portscan

import (
	"sync"
	"sync/atomic"
)

// SessionState 一次扫描的生命周期: Idle -> Running -> Completed | Cancelled
type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionRunning
	SessionCompleted
	SessionCancelled
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionCompleted:
		return "completed"
	case SessionCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Session 单次扫描的可变状态, 由调用方持有, 扫描结束后丢弃, 不可复用.
// Cancel 可以在任意 goroutine 中调用 (例如响应 Ctrl+C).
type Session struct {
	cancelled  atomic.Bool
	cancelOnce sync.Once
	done       chan struct{}

	state     atomic.Int32
	completed atomic.Int64

	mu       sync.Mutex
	findings []ProbeResult
}

// NewSession 创建一个处于 Idle 状态的 Session
func NewSession() *Session {
	return &Session{done: make(chan struct{})}
}

// Cancel 请求停止扫描, 可重复调用
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
	})
}

// Cancelled 是否已请求取消
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done 取消时关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Completed 已完成的探测数
func (s *Session) Completed() int {
	return int(s.completed.Load())
}

// State 当前生命周期状态
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Findings 到目前为止的发现, 按完成顺序
func (s *Session) Findings() []ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProbeResult, len(s.findings))
	copy(out, s.findings)
	return out
}

func (s *Session) start() bool {
	return s.state.CompareAndSwap(int32(SessionIdle), int32(SessionRunning))
}

// finish 所有探测都已完成时即使收到过取消也算 Completed
func (s *Session) finish(all bool) SessionState {
	final := SessionCompleted
	if s.Cancelled() && !all {
		final = SessionCancelled
	}
	s.state.Store(int32(final))
	return final
}

// record 记录一次完成的探测, 返回新的完成计数
func (s *Session) record(res ProbeResult, keep bool) int {
	if keep {
		s.mu.Lock()
		s.findings = append(s.findings, res)
		s.mu.Unlock()
	}
	return int(s.completed.Add(1))
}

package portscan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeProber 按端口返回预设状态, 不访问网络
type fakeProber struct {
	tcp map[int]State
	udp map[int]State
	// fail 中的端口直接返回错误
	fail map[int]error
	// delay 返回每次探测的耗时, 为 nil 时立即返回
	delay func(port int, proto Protocol) time.Duration
	// block 为 true 时一直等到超时或 ctx 结束
	block bool

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeProber) ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	return f.probe(ctx, port, TCP, timeout, f.tcp)
}

func (f *fakeProber) ProbeUDP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	return f.probe(ctx, port, UDP, timeout, f.udp)
}

func (f *fakeProber) probe(ctx context.Context, port int, proto Protocol, timeout time.Duration, states map[int]State) (ProbeResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	res := ProbeResult{Port: port, Protocol: proto, State: StateClosed}
	if err, ok := f.fail[port]; ok {
		return res, err
	}

	var wait time.Duration
	switch {
	case f.block:
		wait = timeout
	case f.delay != nil:
		wait = f.delay(port, proto)
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
			if f.block {
				res.State = StateFiltered
				return res, nil
			}
		case <-ctx.Done():
			res.State = StateError
			return res, nil
		}
	}

	if st, ok := states[port]; ok {
		res.State = st
	}
	return res, nil
}

// fakeResolver 固定的解析结果
type fakeResolver struct {
	addrs map[string][]string
	calls atomic.Int64
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.calls.Add(1)
	if addrs, ok := r.addrs[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

// recorder 记录回调
type recorder struct {
	mu       sync.Mutex
	progress []int
	totals   []int
	findings []ProbeResult
}

func (r *recorder) onProgress(completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, completed)
	r.totals = append(r.totals, total)
}

func (r *recorder) onFinding(res ProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, res)
}

// hostRecorder 记录探测时传入的主机
type hostRecorder struct {
	mu    sync.Mutex
	hosts []string
}

func (h *hostRecorder) ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hosts = append(h.hosts, host)
	return ProbeResult{Port: port, Protocol: TCP, State: StateClosed}, nil
}

func (h *hostRecorder) ProbeUDP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hosts = append(h.hosts, host)
	return ProbeResult{Port: port, Protocol: UDP, State: StateClosed}, nil
}

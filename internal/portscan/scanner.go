package portscan

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTimeout     = 2 * time.Second
	DefaultConcurrency = 100
)

// Options 扫描器配置, 每次构造时传入, 扫描器本身不读取任何全局配置
type Options struct {
	Timeout     time.Duration // 单次探测超时
	Concurrency int           // 同时进行的探测上限
	// IncludeClosed 为 true 时返回值也包含未开放的结果, onFinding 仍然只针对开放端口
	IncludeClosed bool

	Prober   Prober   // 为 nil 时使用 NetProber
	Resolver Resolver // 为 nil 时使用 net.DefaultResolver
	Logger   *zap.Logger
}

// Validate 超时和并发数必须为正
func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidOptions, o.Timeout)
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidOptions, o.Concurrency)
	}
	return nil
}

// ProgressFunc 每完成一次探测调用一次, completed 严格递增
type ProgressFunc func(completed, total int)

// FindingFunc 每发现一个开放端口立即调用
type FindingFunc func(ProbeResult)

// Scanner 端口扫描引擎.
// 回调在扫描 goroutine 中串行调用, 调用方如需切换到自己的 UI 线程需自行处理.
type Scanner struct {
	Timeout       time.Duration
	Concurrency   int
	IncludeClosed bool

	prober   Prober
	resolver Resolver
	logger   *zap.Logger
}

// NewScanner 创建一个新的扫描器实例, Timeout/Concurrency 为零值时使用默认值
func NewScanner(opts Options) (*Scanner, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Prober == nil {
		opts.Prober = NewNetProber(opts.Resolver, opts.Logger)
	}
	return &Scanner{
		Timeout:       opts.Timeout,
		Concurrency:   opts.Concurrency,
		IncludeClosed: opts.IncludeClosed,
		prober:        opts.Prober,
		resolver:      opts.Resolver,
		logger:        opts.Logger.With(zap.String("component", "scanner")),
	}, nil
}

// Scan 扫描 target 的整个端口区间.
//
// 目标不合法 (ErrInvalidTarget) 或主机无法解析 (ErrResolutionFailure) 时在任何探测开始前返回错误.
// 单个端口的网络错误只会体现在结果状态里, 不会中止扫描.
// session 被取消 (或 ctx 结束) 后不再派发新的探测, 进行中的探测被中止,
// 返回已收集到的结果, 这不算错误.
//
// 返回值按端口升序排列, 同一端口 TCP 在 UDP 之前.
func (s *Scanner) Scan(ctx context.Context, target Target, session *Session, onProgress ProgressFunc, onFinding FindingFunc) ([]ProbeResult, error) {
	if session == nil {
		session = NewSession()
	}
	if session.State() != SessionIdle {
		return nil, ErrSessionReused
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	protos, err := target.Mode.Protocols()
	if err != nil {
		return nil, err
	}
	ip, err := ResolveHost(ctx, s.resolver, target.Host)
	if err != nil {
		return nil, err
	}
	if !session.start() {
		return nil, ErrSessionReused
	}

	total := target.TotalProbes()
	log := s.logger.With(
		zap.String("host", target.Host),
		zap.String("ip", ip),
		zap.Int("startPort", target.StartPort),
		zap.Int("endPort", target.EndPort),
		zap.Stringer("mode", target.Mode),
	)
	log.Info("starting port scan", zap.Int("total", total), zap.Int("concurrency", s.Concurrency), zap.Duration("timeout", s.Timeout))
	startTime := time.Now()

	// 调用方的 ctx 结束等同于取消; 取消后中止所有进行中的探测
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopParent := context.AfterFunc(ctx, session.Cancel)
	defer stopParent()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-probeCtx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		reportMu sync.Mutex
		// 信号量，用于控制最大并发数
		sem = semaphore.NewWeighted(int64(s.Concurrency))
	)

	report := func(res ProbeResult) {
		reportMu.Lock()
		defer reportMu.Unlock()
		open := res.State.IsOpen()
		n := session.record(res, open || s.IncludeClosed)
		if open && onFinding != nil {
			onFinding(res)
		}
		if onProgress != nil {
			onProgress(n, total)
		}
	}

dispatch:
	for port := target.StartPort; port <= target.EndPort; port++ {
		for _, proto := range protos {
			if session.Cancelled() {
				break dispatch
			}
			// 获取令牌，如果有空位则继续，否则阻塞等待
			if err := sem.Acquire(probeCtx, 1); err != nil {
				break dispatch
			}
			if session.Cancelled() {
				sem.Release(1)
				break dispatch
			}

			wg.Add(1)
			go func(p int, proto Protocol) {
				defer wg.Done()
				defer sem.Release(1) // 释放令牌
				report(s.probe(probeCtx, ip, p, proto))
			}(port, proto)
		}
	}

	// 等待所有正在进行的扫描任务完成
	wg.Wait()

	if ctx.Err() != nil {
		session.Cancel()
	}
	findings := session.Findings()
	SortResults(findings)

	state := session.finish(session.Completed() == total)
	log.Info("port scan finished",
		zap.Stringer("state", state),
		zap.Int("completed", session.Completed()),
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return findings, nil
}

// CheckPort 检查单个端口, 校验和解析规则与 Scan 相同
func (s *Scanner) CheckPort(ctx context.Context, host string, port int, proto Protocol) (ProbeResult, error) {
	mode := ModeTCP
	if proto == UDP {
		mode = ModeUDP
	}
	t := Target{Host: host, StartPort: port, EndPort: port, Mode: mode}
	if err := t.Validate(); err != nil {
		return ProbeResult{}, err
	}
	ip, err := ResolveHost(ctx, s.resolver, host)
	if err != nil {
		return ProbeResult{}, err
	}
	return s.probe(ctx, ip, port, proto), nil
}

// probe 单次探测, 探测器返回的错误被吸收为 error 状态
func (s *Scanner) probe(ctx context.Context, ip string, port int, proto Protocol) ProbeResult {
	var (
		res ProbeResult
		err error
	)
	switch proto {
	case TCP:
		res, err = s.prober.ProbeTCP(ctx, ip, port, s.Timeout)
	case UDP:
		res, err = s.prober.ProbeUDP(ctx, ip, port, s.Timeout)
	default:
		err = fmt.Errorf("unknown protocol %d", int(proto))
	}
	if err != nil {
		s.logger.Warn("probe failed", zap.String("ip", ip), zap.Int("port", port), zap.Stringer("protocol", proto), zap.Error(err))
		return ProbeResult{Port: port, Protocol: proto, State: StateError}
	}
	return res
}

// SortResults 按端口升序排列, 同一端口 TCP 在前
func SortResults(results []ProbeResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Port != results[j].Port {
			return results[i].Port < results[j].Port
		}
		return results[i].Protocol < results[j].Protocol
	})
}

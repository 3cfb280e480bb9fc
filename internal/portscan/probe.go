package portscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Prober 对单个 (host, port, protocol) 做一次连通性探测.
// 只有目标本身不合法时才返回 error, 网络层面的失败都体现在 ProbeResult.State 里.
type Prober interface {
	ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error)
	ProbeUDP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error)
}

// NetProber 基于操作系统套接字的探测器
type NetProber struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewNetProber resolver 为 nil 时使用 net.DefaultResolver
func NewNetProber(resolver Resolver, logger *zap.Logger) *NetProber {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetProber{resolver: resolver, logger: logger}
}

// ProbeTCP 尝试完成一次 TCP 握手, 成功后立即关闭连接, 不发送任何数据.
//   - 握手成功 -> open
//   - 对端拒绝 (RST) -> closed
//   - 超时 / 不可达 -> filtered
//   - 解析失败或其它错误 -> error
func (p *NetProber) ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	res := ProbeResult{Port: port, Protocol: TCP, State: StateError}
	addr, err := p.address(ctx, host, port)
	if err != nil {
		if errors.Is(err, ErrInvalidTarget) {
			return res, err
		}
		p.logger.Debug("tcp resolve failed", zap.String("host", host), zap.Int("port", port), zap.Error(err))
		return res, nil
	}

	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: -1, // 禁用 KeepAlive，扫描不需要保持连接
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		res.State = StateOpen
		return res, nil
	}

	switch {
	case ctx.Err() != nil:
		res.State = StateError
	case isConnRefused(err), errors.Is(err, syscall.ECONNRESET):
		res.State = StateClosed
	case isTimeout(err), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		res.State = StateFiltered
	default:
		res.State = StateError
	}
	p.logger.Debug("tcp probe", zap.String("addr", addr), zap.String("state", string(res.State)), zap.Error(err))
	return res, nil
}

// ProbeUDP 发送一个单字节数据报并等待回应.
// UDP 没有握手, 所以:
//   - 收到任何数据 -> open
//   - ICMP 端口不可达 (以 connection refused 的形式返回) -> closed
//   - 超时无回应 -> open|filtered, 既可能开放也可能被过滤, 无法区分
func (p *NetProber) ProbeUDP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	res := ProbeResult{Port: port, Protocol: UDP, State: StateError}
	addr, err := p.address(ctx, host, port)
	if err != nil {
		if errors.Is(err, ErrInvalidTarget) {
			return res, err
		}
		p.logger.Debug("udp resolve failed", zap.String("host", host), zap.Int("port", port), zap.Error(err))
		return res, nil
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		if isConnRefused(err) {
			res.State = StateClosed
		}
		p.logger.Debug("udp dial failed", zap.String("addr", addr), zap.Error(err))
		return res, nil
	}
	defer conn.Close()

	// 取消时立即让阻塞中的读写返回
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		p.logger.Debug("udp set deadline failed", zap.String("addr", addr), zap.Error(err))
		return res, nil
	}

	if _, err := conn.Write([]byte{0x00}); err != nil {
		if ctx.Err() == nil && isConnRefused(err) {
			res.State = StateClosed
		}
		p.logger.Debug("udp write failed", zap.String("addr", addr), zap.Error(err))
		return res, nil
	}

	buf := make([]byte, 1500)
	_, err = conn.Read(buf)
	switch {
	case err == nil:
		res.State = StateOpen
	case ctx.Err() != nil:
		res.State = StateError
	case isConnRefused(err):
		res.State = StateClosed
	case isTimeout(err):
		res.State = StateOpenFiltered
	default:
		res.State = StateError
	}
	p.logger.Debug("udp probe", zap.String("addr", addr), zap.String("state", string(res.State)), zap.Error(err))
	return res, nil
}

// address 校验目标并解析为 ip:port. 格式错误立即返回 ErrInvalidTarget, 不会打开任何套接字.
func (p *NetProber) address(ctx context.Context, host string, port int) (string, error) {
	if !ValidHost(host) {
		return "", fmt.Errorf("%w: host %q is not valid", ErrInvalidTarget, host)
	}
	if !ValidPort(port) {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, port)
	}
	ip, err := ResolveHost(ctx, p.resolver, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// Windows 上的 WSAECONNREFUSED 不会匹配 syscall.ECONNREFUSED
	return strings.Contains(err.Error(), "refused")
}

package portscan

import (
	"fmt"
	"strings"
)

// Protocol 单次探测使用的传输层协议
type Protocol int

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ProtocolMode 扫描模式: 仅 TCP, 仅 UDP, 或两者都扫
type ProtocolMode int

const (
	ModeTCP  ProtocolMode = iota // TCP 全连接扫描 (默认, 无需 Root)
	ModeUDP                      // UDP 探测
	ModeBoth                     // 每个端口各发一次 TCP 和 UDP 探测
)

func (m ProtocolMode) String() string {
	switch m {
	case ModeTCP:
		return "tcp"
	case ModeUDP:
		return "udp"
	case ModeBoth:
		return "both"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Protocols 返回该模式下每个端口需要执行的探测, TCP 总在 UDP 之前
func (m ProtocolMode) Protocols() ([]Protocol, error) {
	switch m {
	case ModeTCP:
		return []Protocol{TCP}, nil
	case ModeUDP:
		return []Protocol{UDP}, nil
	case ModeBoth:
		return []Protocol{TCP, UDP}, nil
	}
	return nil, fmt.Errorf("%w: unknown protocol mode %d", ErrInvalidTarget, int(m))
}

// ParseMode 解析 "tcp" / "udp" / "both" (不区分大小写)
func ParseMode(s string) (ProtocolMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return ModeTCP, nil
	case "udp":
		return ModeUDP, nil
	case "both", "tcp+udp", "all":
		return ModeBoth, nil
	}
	return 0, fmt.Errorf("%w: unknown protocol mode %q", ErrInvalidTarget, s)
}

// State 单个端口的探测结论
type State string

const (
	StateOpen State = "open"
	// StateOpenFiltered UDP 探测超时无回应. UDP 没有握手, 静默既可能是服务在监听
	// 也可能是被防火墙丢弃, 这里不做猜测, 按开放处理但保留这个不确定性.
	StateOpenFiltered State = "open|filtered"
	StateClosed       State = "closed"
	StateFiltered     State = "filtered" // TCP 超时
	StateError        State = "error"    // 解析失败或其它套接字错误
)

// IsOpen open 与 open|filtered 都算作发现
func (s State) IsOpen() bool {
	return s == StateOpen || s == StateOpenFiltered
}

// ProbeResult 扫描结果, 生成后不再修改
type ProbeResult struct {
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	State    State    `json:"state"`
}

func (r ProbeResult) String() string {
	return fmt.Sprintf("%d/%s %s", r.Port, r.Protocol, r.State)
}

// Target 扫描目标
type Target struct {
	Host      string
	StartPort int
	EndPort   int
	Mode      ProtocolMode
}

// Validate 在任何探测开始之前检查目标
func (t Target) Validate() error {
	if !ValidHost(t.Host) {
		return fmt.Errorf("%w: host %q is not valid", ErrInvalidTarget, t.Host)
	}
	if !ValidPort(t.StartPort) {
		return fmt.Errorf("%w: start port %d out of range [%d, %d]", ErrInvalidTarget, t.StartPort, MinPort, MaxPort)
	}
	if !ValidPort(t.EndPort) {
		return fmt.Errorf("%w: end port %d out of range [%d, %d]", ErrInvalidTarget, t.EndPort, MinPort, MaxPort)
	}
	if t.StartPort > t.EndPort {
		return fmt.Errorf("%w: start port %d is greater than end port %d", ErrInvalidTarget, t.StartPort, t.EndPort)
	}
	if _, err := t.Mode.Protocols(); err != nil {
		return err
	}
	return nil
}

// TotalProbes 端口数 × 每个端口的探测次数
func (t Target) TotalProbes() int {
	protos, err := t.Mode.Protocols()
	if err != nil || t.EndPort < t.StartPort {
		return 0
	}
	return (t.EndPort - t.StartPort + 1) * len(protos)
}

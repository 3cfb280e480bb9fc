package portscan

import "errors"

var (
	// ErrInvalidTarget 主机格式错误, 端口越界或起始端口大于结束端口
	ErrInvalidTarget = errors.New("invalid target")
	// ErrResolutionFailure 主机名无法解析, 整个扫描中止
	ErrResolutionFailure = errors.New("resolution failure")
	// ErrInvalidOptions 超时或并发数不合法
	ErrInvalidOptions = errors.New("invalid scanner options")
	// ErrSessionReused 一个 Session 只能用于一次扫描
	ErrSessionReused = errors.New("scan session already used")
	// ErrNeedPrivilege SYN 扫描需要原始套接字权限 (root / CAP_NET_RAW)
	ErrNeedPrivilege = errors.New("raw socket privileges required")
)

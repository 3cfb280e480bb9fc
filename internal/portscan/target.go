package portscan

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/asaskevich/govalidator"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// ValidPort 端口号是否在 [1, 65535] 之内
func ValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// ValidHost 主机名或 IP 字面量是否合法, 不做任何网络请求.
// 带空格, 协议前缀或路径的字符串 (例如 "https://example.com") 都不合法.
func ValidHost(host string) bool {
	if host == "" || strings.TrimSpace(host) != host {
		return false
	}
	return govalidator.IsHost(host)
}

// Resolver 主机名解析, *net.Resolver 满足该接口
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ResolveHost 把主机名解析为一个地址, 优先 IPv4. 失败时返回 ErrResolutionFailure.
// IP 字面量直接返回, 不经过解析器.
func ResolveHost(ctx context.Context, r Resolver, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrResolutionFailure, host, err)
	}

	var fallback string
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip.String(), nil
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: %s: no usable addresses", ErrResolutionFailure, host)
	}
	return fallback, nil
}

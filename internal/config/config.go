package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"PortCheckerGo/internal/portscan"
)

// EnvPrefix 环境变量前缀, 例如 PORTCHECKER_TIMEOUT=500ms
const EnvPrefix = "PORTCHECKER"

// Settings 命令行最终生效的配置: 默认值 < 配置文件 < 环境变量 < 命令行参数
type Settings struct {
	Host        string
	StartPort   int
	EndPort     int
	Mode        string
	Timeout     time.Duration
	Concurrency int
	ShowClosed  bool

	SYN       bool
	Interface string
	DstMAC    string

	LogLevel string
	LogFile  string
	NoColor  bool
}

// RegisterFlags 注册所有参数
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "H", "127.0.0.1", "目标主机名或 IP 地址")
	flags.IntP("start", "s", 1, "起始端口")
	flags.IntP("end", "e", 1024, "结束端口")
	flags.StringP("mode", "m", "tcp", "扫描协议: tcp, udp, both")
	flags.DurationP("timeout", "t", portscan.DefaultTimeout, "单个端口探测超时")
	flags.IntP("concurrency", "c", portscan.DefaultConcurrency, "并发数")
	flags.BoolP("all", "a", false, "同时列出关闭/过滤的端口")
	flags.Bool("syn", false, "使用 SYN 半开放扫描 TCP 端口 (需 Root)")
	flags.String("iface", "", "SYN 扫描使用的网卡")
	flags.String("dst-mac", "", "SYN 扫描的目标或网关 MAC, 为空时通过 ARP 查询")
	flags.String("log-level", "info", "日志级别: debug, info, warn, error")
	flags.String("log-file", "", "日志文件路径 (自动滚动)")
	flags.Bool("no-color", false, "关闭彩色输出")
	flags.String("config", "", "配置文件 (yaml, toml, json)")
}

// Load 合并配置文件, 环境变量和命令行参数
func Load(flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Settings{}, fmt.Errorf("failed to bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	s := Settings{
		Host:        v.GetString("host"),
		StartPort:   v.GetInt("start"),
		EndPort:     v.GetInt("end"),
		Mode:        v.GetString("mode"),
		Timeout:     v.GetDuration("timeout"),
		Concurrency: v.GetInt("concurrency"),
		ShowClosed:  v.GetBool("all"),
		SYN:         v.GetBool("syn"),
		Interface:   v.GetString("iface"),
		DstMAC:      v.GetString("dst-mac"),
		LogLevel:    v.GetString("log-level"),
		LogFile:     v.GetString("log-file"),
		NoColor:     v.GetBool("no-color"),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate 检查与扫描目标无关的参数
func (s Settings) Validate() error {
	if err := s.ScannerOptions().Validate(); err != nil {
		return err
	}
	if s.SYN && s.Interface == "" {
		return fmt.Errorf("%w: --syn requires --iface", portscan.ErrInvalidOptions)
	}
	return nil
}

// Target 转换为扫描目标, 模式字符串无法识别时返回 ErrInvalidTarget
func (s Settings) Target() (portscan.Target, error) {
	mode, err := portscan.ParseMode(s.Mode)
	if err != nil {
		return portscan.Target{}, err
	}
	return portscan.Target{
		Host:      s.Host,
		StartPort: s.StartPort,
		EndPort:   s.EndPort,
		Mode:      mode,
	}, nil
}

// ScannerOptions 扫描器参数, Prober/Logger 由调用方补充
func (s Settings) ScannerOptions() portscan.Options {
	return portscan.Options{
		Timeout:       s.Timeout,
		Concurrency:   s.Concurrency,
		IncludeClosed: s.ShowClosed,
	}
}

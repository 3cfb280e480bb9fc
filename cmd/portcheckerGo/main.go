package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"PortCheckerGo/internal/config"
	"PortCheckerGo/internal/logging"
	"PortCheckerGo/internal/portscan"
)

var rootCmd = &cobra.Command{
	Use:           "portcheckerGo [host]",
	Short:         "Scan a contiguous range of TCP/UDP ports on a host",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.Red("[-]%v", err)
		os.Exit(exitCode(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := cmd.Flags().Set("host", args[0]); err != nil {
			return err
		}
	}
	settings, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	color.NoColor = color.NoColor || settings.NoColor

	logger, err := newLogger(settings)
	if err != nil {
		return err
	}
	defer logger.Sync()

	target, err := settings.Target()
	if err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	opts := settings.ScannerOptions()
	opts.Logger = logger
	if settings.SYN {
		syn, err := newSynProber(ctx, settings, logger)
		if err != nil {
			return err
		}
		defer syn.Close()
		opts.Prober = syn
	}
	scanner, err := portscan.NewScanner(opts)
	if err != nil {
		return err
	}

	color.Cyan("--- 开始扫描 %s [端口 %d-%d] [%s] ---\n", target.Host, target.StartPort, target.EndPort, target.Mode)
	color.Cyan("--- 并发数: %d | 超时: %s ---\n", scanner.Concurrency, scanner.Timeout)

	// Ctrl+C 只取消本次扫描, 已发现的端口照常输出
	session := portscan.NewSession()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			session.Cancel()
		case <-ctx.Done():
		}
	}()

	bar := newProgressBar(target.TotalProbes())
	startTime := time.Now()
	results, err := scanner.Scan(ctx, target, session,
		func(completed, total int) {
			bar.Set(completed)
		},
		func(res portscan.ProbeResult) {
			bar.Clear()
			printFinding(target.Host, res)
		},
	)
	if err != nil {
		bar.Exit()
		return err
	}
	bar.Finish()
	fmt.Println()

	if session.State() == portscan.SessionCancelled {
		color.Yellow("[!]扫描已取消, 已完成 %d/%d 次探测, 以下为部分结果", session.Completed(), target.TotalProbes())
	}
	printResults(os.Stdout, results)
	fmt.Println("============================")
	color.Cyan("[+]扫描完成!耗时: %s\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func newLogger(s config.Settings) (*zap.Logger, error) {
	opts := logging.Options{Level: s.LogLevel, File: s.LogFile}
	// 没有日志文件时只在 debug 级别输出到终端, 避免打乱进度条
	if s.LogFile == "" && s.LogLevel == "debug" {
		opts.Console = os.Stderr
	}
	return logging.New(opts)
}

func newSynProber(ctx context.Context, s config.Settings, logger *zap.Logger) (*portscan.SynProber, error) {
	ip, err := portscan.ResolveHost(ctx, net.DefaultResolver, s.Host)
	if err != nil {
		return nil, err
	}
	var dstMac net.HardwareAddr
	if s.DstMAC != "" {
		if dstMac, err = net.ParseMAC(s.DstMAC); err != nil {
			return nil, fmt.Errorf("%w: --dst-mac: %v", portscan.ErrInvalidOptions, err)
		}
	}
	return portscan.NewSynProber(s.Interface, ip, dstMac, nil, logger)
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),               // 启用颜色代码支持
		progressbar.OptionShowBytes(false),                     // 我们不是传输文件，不显示字节大小
		progressbar.OptionShowCount(),                          // 显示 已完成/总数
		progressbar.OptionSetWidth(30),                         // 进度条宽度
		progressbar.OptionSetDescription("[cyan][扫描中][reset]"), // 描述前缀
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// exitCode 2: 参数或目标错误, 3: 缺少权限, 4: 无法解析主机
func exitCode(err error) int {
	switch {
	case errors.Is(err, portscan.ErrInvalidTarget), errors.Is(err, portscan.ErrInvalidOptions):
		return 2
	case errors.Is(err, portscan.ErrNeedPrivilege):
		return 3
	case errors.Is(err, portscan.ErrResolutionFailure):
		return 4
	}
	return 1
}

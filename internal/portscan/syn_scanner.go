package portscan

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const synSourcePort = layers.TCPPort(45678)

// SynProber 负责处理 SYN 半开放扫描 (需 Root).
// 一个 SynProber 绑定一个目标 IP, 收包协程把 SYN+ACK / RST 分发给等待中的探测.
// UDP 探测交给 udp 字段里的探测器.
type SynProber struct {
	targetIP net.IP
	localIP  net.IP
	localMac net.HardwareAddr
	dstMac   net.HardwareAddr // 目标 MAC 或 网关 MAC
	handle   *pcap.Handle
	udp      Prober
	logger   *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	waiters map[int]chan State

	closeOnce sync.Once
	done      chan struct{}
}

// NewSynProber 初始化 SYN 探测器并启动收包协程.
// dstMac 为 nil 时通过 ARP 查询目标 MAC (仅限同一局域网).
func NewSynProber(ifaceName, target string, dstMac net.HardwareAddr, udp Prober, logger *zap.Logger) (*SynProber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	targetIP := net.ParseIP(target).To4()
	if targetIP == nil {
		return nil, fmt.Errorf("%w: SYN 扫描需要 IPv4 地址, 得到 %q", ErrInvalidTarget, target)
	}

	// 1. 获取网卡信息
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("无法获取网卡 %s: %w", ifaceName, err)
	}

	// 2. 获取本地 IP
	localIP, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}

	if dstMac == nil {
		dstMac, err = GetMacByIP(ifaceName, targetIP, 2*time.Second)
		if err != nil {
			return nil, err
		}
	}

	// 3. 打开 Pcap 句柄
	handle, err := pcap.OpenLive(ifaceName, 65536, true, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNeedPrivilege, err)
	}
	// 只接收来自目标 IP, 发往我们源端口的 TCP 包
	bpfFilter := fmt.Sprintf("src host %s and tcp dst port %d", targetIP, synSourcePort)
	if err := handle.SetBPFFilter(bpfFilter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("设置 BPF 过滤器失败: %w", err)
	}

	if udp == nil {
		udp = NewNetProber(nil, logger)
	}
	s := &SynProber{
		targetIP: targetIP,
		localIP:  localIP,
		localMac: iface.HardwareAddr,
		dstMac:   dstMac,
		handle:   handle,
		udp:      udp,
		logger:   logger.With(zap.String("component", "syn")),
		waiters:  make(map[int]chan State),
		done:     make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// Close 关闭 pcap 句柄, 收包协程随之退出
func (s *SynProber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.handle.Close()
	})
	return nil
}

// ProbeTCP 发送一个 SYN 并等待回应:
// SYN+ACK -> open, RST -> closed, 超时 -> filtered
func (s *SynProber) ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	res := ProbeResult{Port: port, Protocol: TCP, State: StateError}
	if !ValidPort(port) {
		return res, fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, port)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.Equal(s.targetIP) {
		return res, fmt.Errorf("%w: SYN prober is bound to %s, got %q", ErrInvalidTarget, s.targetIP, host)
	}

	reply := make(chan State, 1)
	s.mu.Lock()
	s.waiters[port] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, port)
		s.mu.Unlock()
	}()

	if err := s.sendSYN(port); err != nil {
		s.logger.Debug("send syn failed", zap.Int("port", port), zap.Error(err))
		return res, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case st := <-reply:
		res.State = st
	case <-timer.C:
		res.State = StateFiltered
	case <-ctx.Done():
		res.State = StateError
	case <-s.done:
		res.State = StateError
	}
	return res, nil
}

// ProbeUDP 原始 SYN 只适用于 TCP
func (s *SynProber) ProbeUDP(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	return s.udp.ProbeUDP(ctx, host, port, timeout)
}

func (s *SynProber) sendSYN(port int) error {
	eth := layers.Ethernet{
		SrcMAC:       s.localMac,
		DstMAC:       s.dstMac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		SrcIP:    s.localIP,
		DstIP:    s.targetIP,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcp := layers.TCP{
		SrcPort: synSourcePort,
		DstPort: layers.TCPPort(port),
		Seq:     rand.Uint32(),
		Window:  1024,
		SYN:     true,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		return err
	}

	// 序列化缓冲区
	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buffer, opts, &eth, &ip, &tcp); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.handle.WritePacketData(buffer.Bytes())
}

func (s *SynProber) recvLoop() {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for {
		select {
		case <-s.done:
			return
		case packet, ok := <-packetSource.Packets():
			if !ok {
				return
			}
			if packet == nil {
				continue
			}
			// 解析 TCP 层
			tcpLayer := packet.Layer(layers.LayerTypeTCP)
			if tcpLayer == nil {
				continue
			}
			tcp, _ := tcpLayer.(*layers.TCP)
			var st State
			switch {
			case tcp.SYN && tcp.ACK: // SYN=1, ACK=1 (0x12) => 端口开放
				st = StateOpen
			case tcp.RST: // RST => 端口关闭
				st = StateClosed
			default:
				continue
			}
			s.deliver(int(tcp.SrcPort), st)
		}
	}
}

func (s *SynProber) deliver(port int, st State) {
	s.mu.Lock()
	ch, ok := s.waiters[port]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- st:
	default:
	}
}

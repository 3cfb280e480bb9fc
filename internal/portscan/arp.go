package portscan

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// GetMacByIP 尝试通过 ARP 请求获取指定 IP 的 MAC 地址
// 注意：仅适用于同一局域网, 跨网段时应传入网关的 MAC
func GetMacByIP(ifaceName string, targetIP net.IP, timeout time.Duration) (net.HardwareAddr, error) {
	targetIP = targetIP.To4()
	if targetIP == nil {
		return nil, errors.New("ARP 仅支持 IPv4 地址")
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("无法获取网卡 %s: %w", ifaceName, err)
	}
	srcIP, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}

	// 打开句柄
	handle, err := pcap.OpenLive(ifaceName, 65536, true, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNeedPrivilege, err)
	}
	defer handle.Close()
	if err := handle.SetBPFFilter("arp"); err != nil {
		return nil, fmt.Errorf("设置 BPF 过滤器失败: %w", err)
	}

	eth := layers.Ethernet{
		SrcMAC:       iface.HardwareAddr,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(iface.HardwareAddr),
		SourceProtAddress: []byte(srcIP),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(targetIP),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, err
	}
	if err := handle.WritePacketData(buf.Bytes()); err != nil {
		return nil, err
	}

	// 监听 ARP 回复
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, _, err := handle.ReadPacketData()
		if err != nil {
			continue
		}
		packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
		if arpLayer := packet.Layer(layers.LayerTypeARP); arpLayer != nil {
			reply := arpLayer.(*layers.ARP)
			if reply.Operation == layers.ARPReply && bytes.Equal(reply.SourceProtAddress, targetIP) {
				return net.HardwareAddr(reply.SourceHwAddress), nil
			}
		}
	}
	return nil, fmt.Errorf("ARP 请求超时: %s", targetIP)
}

// interfaceIPv4 网卡上第一个非回环 IPv4 地址
func interfaceIPv4(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("无法在网卡 %s 上找到 IPv4 地址", iface.Name)
}

package util

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo describes the machine the host runs on. It is served by the
// API and attached to telemetry.
type SystemInfo struct {
	Hostname     string  `json:"hostname"`
	OS           string  `json:"os"`
	Architecture string  `json:"architecture"`
	CPUModel     string  `json:"cpu_model"`
	CPUThreads   int     `json:"cpu_threads"`
	CPUPercent   float64 `json:"cpu_percent"`
	TotalMemory  uint64  `json:"total_memory_mb"`
	UsedMemory   uint64  `json:"used_memory_mb"`
	ProcessRSS   uint64  `json:"process_rss_mb"`
	Uptime       uint64  `json:"uptime_seconds"`
	Goroutines   int     `json:"goroutines"`
}

// GetSystemInfo gathers system information. Fields whose probe fails are
// left zero.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUThreads:   runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = hostInfo.Uptime
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
		info.UsedMemory = memInfo.Used / (1024 * 1024)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := p.MemoryInfo(); err == nil {
			info.ProcessRSS = m.RSS / (1024 * 1024)
		}
	}
	return info
}

// DiskUsage is the usage of the filesystem holding a path.
type DiskUsage struct {
	Total       uint64  `json:"total_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage returns disk usage for the filesystem holding path, used to
// report the map and database directories.
func GetDiskUsage(path string) (*DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage of %s: %w", path, err)
	}
	return &DiskUsage{
		Total:       usage.Total / (1024 * 1024 * 1024),
		Free:        usage.Free / (1024 * 1024 * 1024),
		UsedPercent: usage.UsedPercent,
	}, nil
}

// GetOutboundIP returns the local address used for outbound traffic. No
// packet is sent.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("failed to detect outbound address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}

// GetLocalIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func GetLocalIP() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4(127, 0, 0, 1).To4()
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if v4 := ipNet.IP.To4(); v4 != nil {
				return v4
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ticksBase anchors Ticks to the monotonic clock.
var ticksBase = time.Now()

// Ticks returns milliseconds since process start, truncated to 32 bits as
// the game protocol carries them. Only differences between two values are
// meaningful.
func Ticks(t time.Time) uint32 {
	return uint32(t.Sub(ticksBase).Milliseconds())
}

package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds static information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information. Fields that cannot be
// determined are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// HostStats is a point-in-time view of host and process load.
type HostStats struct {
	CPUPercent    float64       `json:"cpu_percent"`
	MemUsedMB     uint64        `json:"mem_used_mb"`
	MemTotalMB    uint64        `json:"mem_total_mb"`
	MemPercent    float64       `json:"mem_percent"`
	HostUptime    time.Duration `json:"host_uptime"`
	ProcessRSSMB  uint64        `json:"process_rss_mb"`
	ProcessUptime time.Duration `json:"process_uptime"`
	Goroutines    int           `json:"goroutines"`
}

var processStart = time.Now()

// GetHostStats samples current CPU, memory and process usage. Sampling
// errors leave the corresponding fields zero.
func GetHostStats() HostStats {
	stats := HostStats{
		Goroutines:    runtime.NumGoroutine(),
		ProcessUptime: time.Since(processStart).Truncate(time.Second),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		stats.MemUsedMB = memInfo.Used / (1024 * 1024)
		stats.MemTotalMB = memInfo.Total / (1024 * 1024)
		stats.MemPercent = memInfo.UsedPercent
	}

	if uptime, err := host.Uptime(); err == nil {
		stats.HostUptime = time.Duration(uptime) * time.Second
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			stats.ProcessRSSMB = memInfo.RSS / (1024 * 1024)
		}
	}

	return stats
}

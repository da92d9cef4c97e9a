// Package monitoring reads the appliance vitals shown on the dashboard:
// disk usage of the storage root, memory, uptime, CPU temperature, camera
// reachability and whether the recorder is actually laying down files.
package monitoring

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"boxcam/segment"
)

// Sensor names that usually represent the CPU package, tried in order.
var preferredTempSensors = []string{"x86_pkg_temp", "coretemp", "k10temp", "cpu-thermal"}

// DiskStatus describes usage of the filesystem backing the storage root.
type DiskStatus struct {
	Percent float64 `json:"percent"`
	FreeGB  float64 `json:"free_gb"`
	Text    string  `json:"text"`
}

// SystemHealth is the aggregate vitals snapshot for the health endpoint.
type SystemHealth struct {
	Disk          DiskStatus `json:"disk"`
	MemoryPercent float64    `json:"memory_percent"`
	UptimeHours   int        `json:"uptime_hours"`
	CPUTemp       string     `json:"cpu_temp"`
	PingMs        *float64   `json:"ping_ms"`
	StorageOK     bool       `json:"storage_ok"`
	Goroutines    int        `json:"goroutines"`
}

// GetSystemHealth gathers all vitals. Individual probe failures degrade to
// zero values; the endpoint itself never fails.
func GetSystemHealth(root, cameraIP string) SystemHealth {
	return SystemHealth{
		Disk:          GetDiskStatus(root),
		MemoryPercent: memoryPercent(),
		UptimeHours:   uptimeHours(),
		CPUTemp:       GetCPUTemp(),
		PingMs:        PingCamera(cameraIP),
		StorageOK:     StorageWritable(root),
		Goroutines:    runtime.NumGoroutine(),
	}
}

// GetDiskStatus reports usage of the filesystem holding the storage root.
// A mount with more than 10TB free is presented as cloud-backed since the
// percentage is meaningless there.
func GetDiskStatus(root string) DiskStatus {
	usage, err := disk.Usage(root)
	if err != nil {
		return DiskStatus{Text: "--"}
	}
	status := DiskStatus{
		Percent: round1(usage.UsedPercent),
		FreeGB:  round1(float64(usage.Free) / (1024 * 1024 * 1024)),
	}
	if status.FreeGB > 10000 {
		status.Text = fmt.Sprintf("%.1f%% (Cloud)", status.Percent)
	} else {
		status.Text = fmt.Sprintf("%.1f%% (%.1f GB free)", status.Percent, status.FreeGB)
	}
	return status
}

func memoryPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return round1(vm.UsedPercent)
}

func uptimeHours() int {
	up, err := host.Uptime()
	if err != nil {
		return 0
	}
	return int(up / 3600)
}

// GetCPUTemp reads the CPU temperature sensors, preferring the ones that
// represent the package, and renders Fahrenheit. Returns "--" when no sensor
// is readable (common in containers without /sys mounted).
func GetCPUTemp() string {
	temps, err := host.SensorsTemperatures()
	if err != nil || len(temps) == 0 {
		return "--"
	}

	for _, preferred := range preferredTempSensors {
		for _, t := range temps {
			if strings.Contains(t.SensorKey, preferred) && t.Temperature > 0 {
				return formatTempF(t.Temperature)
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return formatTempF(t.Temperature)
		}
	}
	return "--"
}

func formatTempF(celsius float64) string {
	return fmt.Sprintf("%.1f°F", celsius*9/5+32)
}

// PingCamera sends a single ICMP echo to the camera and returns the round
// trip in milliseconds, or nil when the camera did not answer within a
// second. Shells out to the system ping binary.
func PingCamera(ip string) *float64 {
	out, err := exec.Command("ping", "-c", "1", "-W", "1", ip).Output()
	if err != nil {
		return nil
	}
	text := string(out)
	idx := strings.Index(text, "time=")
	if idx < 0 {
		return nil
	}
	rest := text[idx+len("time="):]
	if end := strings.IndexAny(rest, " \n"); end > 0 {
		rest = rest[:end]
	}
	ms, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return nil
	}
	return &ms
}

// StorageWritable reports whether the storage root exists and is writable.
func StorageWritable(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	return syscall.Access(root, 0x2) == nil // W_OK
}

// RecorderActive reports whether the capture process wrote a segment within
// the last activeWithin. It only looks at modification times, so it works no
// matter what the files are named.
func RecorderActive(root, subfolder string, now time.Time, activeWithin time.Duration) bool {
	files, err := segment.ListDay(segment.DayDir(root, subfolder, now))
	if err != nil {
		return false
	}
	for _, f := range files {
		if now.Sub(f.ModTime) < activeWithin {
			return true
		}
	}
	return false
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

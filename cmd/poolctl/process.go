package main

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessUsage is a snapshot of this process. Open file descriptors include
// every physical connection the pool holds.
type ProcessUsage struct {
	RSSBytes    uint64  `json:"rss_bytes"`
	OpenFDs     int32   `json:"open_fds"`
	ThreadCount int32   `json:"thread_count"`
	CPUSeconds  float64 `json:"cpu_seconds"`
}

// sampleProcess reads process counters; fields the platform cannot report
// stay zero.
func sampleProcess() (*ProcessUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	usage := &ProcessUsage{}
	if memInfo, err := proc.MemoryInfo(); err == nil {
		usage.RSSBytes = memInfo.RSS
	}
	if cpuTime, err := proc.Times(); err == nil {
		usage.CPUSeconds = cpuTime.User + cpuTime.System
	}
	usage.ThreadCount, _ = proc.NumThreads()
	usage.OpenFDs, _ = proc.NumFDs()
	return usage, nil
}

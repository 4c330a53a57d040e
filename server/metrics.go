package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically samples host-level metrics relevant to WAL
// retention (CPU, memory, and usage of the disk holding the WAL directory)
// and publishes them via expvar. Disk pressure here is the operator's first
// signal that confirmations are lagging and pruning has stalled.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a new collector.
// diskPath should be the path of the disk to monitor (e.g., the WAL directory).
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	return &SystemCollector{
		cpuUsagePercent: expvar.NewFloat("system_cpu_usage_percent"),
		memUsagePercent: expvar.NewFloat("system_mem_usage_percent"),
		diskUsage:       expvar.NewFloat("system_disk_usage_percent"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.logger.Info("Stopping system metrics collector")
	close(sc.stopChan)
	sc.wg.Wait()
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.collectOnce()
		case <-sc.stopChan:
			return
		}
	}
}

func (sc *SystemCollector) collectOnce() {
	// The interval for cpu.Percent should be slightly less than the ticker
	// interval to avoid the next tick arriving before the measurement is done.
	sampleWindow := sc.interval - time.Second
	if sampleWindow <= 0 {
		sampleWindow = 0
	}
	cpuPercentages, err := cpu.Percent(sampleWindow, false)
	if err == nil && len(cpuPercentages) > 0 {
		sc.cpuUsagePercent.Set(cpuPercentages[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	}

	if du, err := disk.Usage(sc.diskPath); err == nil {
		sc.diskUsage.Set(du.UsedPercent)
	}
}

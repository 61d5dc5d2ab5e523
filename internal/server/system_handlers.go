package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemStatusResponse is the host-level view: process uptime plus
// cpu/memory/disk readings for the dashboard's system panel.
type systemStatusResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemPercent        float64 `json:"mem_percent"`
	MemUsedMB         float64 `json:"mem_used_mb"`
	MemTotalMB        float64 `json:"mem_total_mb"`
	DiskPercent       float64 `json:"disk_percent"`
	DiskFreeGB        float64 `json:"disk_free_gb"`
	DataDirMB         float64 `json:"data_dir_mb"`
	SystemUptimeHours float64 `json:"system_uptime_hours"`
	AppUptimeHours    float64 `json:"app_uptime_hours"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := systemStatusResponse{
		AppUptimeHours: time.Since(s.started).Hours(),
	}

	// 100ms sample keeps the endpoint fast; the dashboard polls often.
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemPercent = vm.UsedPercent
		resp.MemUsedMB = float64(vm.Used) / 1024 / 1024
		resp.MemTotalMB = float64(vm.Total) / 1024 / 1024
	} else {
		s.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	if s.cfg.DataDir != "" {
		if du, err := disk.Usage(s.cfg.DataDir); err == nil {
			resp.DiskPercent = du.UsedPercent
			resp.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
		} else {
			s.log.Warn().Err(err).Msg("Failed to read disk usage")
		}
		resp.DataDirMB = dirSizeMB(s.cfg.DataDir)
	}

	if up, err := host.Uptime(); err == nil {
		resp.SystemUptimeHours = float64(up) / 3600
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// dirSizeMB walks a directory and totals file sizes. Unreadable entries
// are skipped.
func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}

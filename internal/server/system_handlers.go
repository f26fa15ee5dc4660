package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tradeapproval/internal/database"
	"github.com/aristath/tradeapproval/internal/di"
	"github.com/aristath/tradeapproval/internal/scheduler"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	container   *di.Container
	startupTime time.Time

	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

// NewSystemHandlers creates system handlers backed by the container
func NewSystemHandlers(log zerolog.Logger, container *di.Container) *SystemHandlers {
	return &SystemHandlers{
		log:           log.With().Str("handler", "system").Logger(),
		container:     container,
		startupTime:   time.Now(),
		cpuPercent:    cpu.Percent,
		virtualMemory: mem.VirtualMemory,
		diskUsage:     disk.Usage,
	}
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	DiskFreeGB    float64         `json:"disk_free_gb,omitempty"`
	Storage       string          `json:"storage"`
	Database      *database.Stats `json:"database,omitempty"`
	TradeCount    int             `json:"trade_count"`
	TradesByState map[string]int  `json:"trades_by_state"`
	LastChecked   string          `json:"last_checked"`
}

// JobsStatusResponse is the body of GET /api/system/jobs
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// HandleSystemStatus returns host, storage and trade counters
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: ramPercent,
		Storage:       h.container.StorageBackend(),
		TradesByState: make(map[string]int),
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	if h.container.DB != nil {
		stats, err := h.container.DB.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get database stats")
			response.Status = "degraded"
		} else {
			response.Database = stats
		}
	}

	if h.container.Config != nil {
		if usage, err := h.diskUsage(h.container.Config.DataDir); err == nil {
			response.DiskFreeGB = float64(usage.Free) / 1e9
		} else {
			h.log.Warn().Err(err).Msg("Failed to get disk usage")
		}
	}

	all, err := h.container.TradeService.ListTrades(r.Context(), "", true)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count trades")
		response.Status = "degraded"
	} else {
		response.TradeCount = len(all)
		for _, t := range all {
			response.TradesByState[string(t.State)]++
		}
	}

	h.writeJSON(w, response)
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	jobs := []scheduler.JobStatus{}
	if h.container.Scheduler != nil {
		jobs = h.container.Scheduler.Statuses()
	}

	h.writeJSON(w, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) to keep the call fast
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := h.cpuPercent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := h.virtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

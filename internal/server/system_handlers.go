package server

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/scheduler"
)

// JobLister reports the registered background jobs.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	prices      domain.PriceProvider
	jobs        JobLister
	refreshJob  scheduler.Job
	bus         *events.Bus
}

// NewSystemHandlers creates a new system handlers instance. refreshJob may be
// nil, in which case manual price refreshes are rejected.
func NewSystemHandlers(prices domain.PriceProvider, jobs JobLister, refreshJob scheduler.Job, bus *events.Bus, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		prices:      prices,
		jobs:        jobs,
		refreshJob:  refreshJob,
		bus:         bus,
	}
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	Goroutines       int     `json:"goroutines"`
	EventSubscribers int     `json:"event_subscribers"`
	Jobs             int     `json:"jobs"`
}

// PricesResponse is the cached price table.
type PricesResponse struct {
	Prices domain.PriceTable `json:"prices"`
	Tokens []string          `json:"tokens"`
}

// HandleSystemStatus returns process and host status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
	}
	if h.bus != nil {
		for _, t := range events.AllTypes {
			response.EventSubscribers += h.bus.SubscriberCount(t)
		}
	}
	if h.jobs != nil {
		response.Jobs = len(h.jobs.Jobs())
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleJobsStatus lists scheduled jobs with their next run
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	var jobs []scheduler.JobStatus
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}, h.log)
}

// HandlePrices returns the current price table, refreshing it when stale
func (h *SystemHandlers) HandlePrices(w http.ResponseWriter, r *http.Request) {
	table, err := h.prices.Prices(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve prices")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()}, h.log)
		return
	}

	tokens := make([]string, 0, len(table))
	for token := range table {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	writeJSON(w, http.StatusOK, PricesResponse{Prices: table, Tokens: tokens}, h.log)
}

// HandleTriggerPriceRefresh runs the price refresh job immediately
// POST /api/prices/refresh
func (h *SystemHandlers) HandleTriggerPriceRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refreshJob == nil {
		http.Error(w, "Price refresh job not registered", http.StatusServiceUnavailable)
		return
	}

	if err := h.refreshJob.Run(); err != nil {
		h.log.Error().Err(err).Msg("Manual price refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"job":    h.refreshJob.Name(),
	}, h.log)
}

// getSystemStats samples CPU over 100ms and reads memory usage.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
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

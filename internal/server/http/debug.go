package http

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// StatsFunc reports live pipeline counters for /debug/runtime.
type StatsFunc func() map[string]interface{}

// DebugHandler provides debug and profiling endpoints.
type DebugHandler struct {
	pprofEnabled bool
	startTime    time.Time
	stats        StatsFunc
}

// NewDebugHandler creates a new debug handler. stats may be nil.
func NewDebugHandler(pprofEnabled bool, stats StatsFunc) *DebugHandler {
	return &DebugHandler{
		pprofEnabled: pprofEnabled,
		startTime:    time.Now(),
		stats:        stats,
	}
}

// Register adds the debug routes to r.
func (h *DebugHandler) Register(r *mux.Router) {
	r.HandleFunc("/debug/runtime", h.handleRuntimeInfo).Methods(http.MethodGet)

	if h.pprofEnabled {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// Named profiles (heap, goroutine, block, mutex) are served by Index.
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

		log.Info().Msg("pprof endpoints registered at /debug/pprof/")
	}

	log.Info().Bool("pprof", h.pprofEnabled).Msg("debug endpoints registered at /debug/")
}

// handleRuntimeInfo returns Go runtime information as JSON.
func (h *DebugHandler) handleRuntimeInfo(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := map[string]interface{}{
		"go_version":     runtime.Version(),
		"go_os":          runtime.GOOS,
		"go_arch":        runtime.GOARCH,
		"num_cpu":        runtime.NumCPU(),
		"num_goroutine":  runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"memory": map[string]interface{}{
			"alloc_mb":          float64(memStats.Alloc) / 1024 / 1024,
			"sys_mb":            float64(memStats.Sys) / 1024 / 1024,
			"heap_alloc_mb":     float64(memStats.HeapAlloc) / 1024 / 1024,
			"heap_inuse_mb":     float64(memStats.HeapInuse) / 1024 / 1024,
			"heap_objects":      memStats.HeapObjects,
			"num_gc":            memStats.NumGC,
			"gc_pause_total_ms": float64(memStats.PauseTotalNs) / 1e6,
		},
	}
	if h.stats != nil {
		info["pipeline"] = h.stats()
	}

	writeJSON(w, http.StatusOK, info)
}

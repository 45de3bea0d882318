package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-sketch/internal/logger"
)

// Status is the JSON body served at /status: where the training run is
// and what it last measured.
type Status struct {
	State     string    `json:"state"` // idle, training, evaluating, done
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`

	Epoch        int     `json:"epoch"`
	TotalEpochs  int     `json:"total_epochs"`
	TrainLoss    float64 `json:"train_loss"`
	EvalLoss     float64 `json:"eval_loss"`
	EvalAccuracy float64 `json:"eval_accuracy"`

	System SystemInfo `json:"system"`
}

// SystemInfo reports process-level resource usage.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// Monitor serves health and progress endpoints for a training run:
// /health and /healthz for liveness, /metrics for Prometheus, /status
// for a JSON progress snapshot.
type Monitor struct {
	startTime time.Time
	server    *http.Server

	mu           sync.RWMutex
	state        string
	epoch        int
	totalEpochs  int
	trainLoss    float64
	evalLoss     float64
	evalAccuracy float64
}

func NewMonitor(totalEpochs int) *Monitor {
	return &Monitor{
		startTime:   time.Now(),
		state:       "idle",
		totalEpochs: totalEpochs,
	}
}

// Start serves until the listener fails or Stop is called. Call it from
// its own goroutine.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", m.handleStatus)

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("monitor listening", "addr", addr)
	return m.server.ListenAndServe()
}

func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// SetTraining marks the start of a training epoch.
func (m *Monitor) SetTraining(epoch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = "training"
	m.epoch = epoch
}

// RecordEpoch stores the outcome of a completed training epoch.
func (m *Monitor) RecordEpoch(epoch int, loss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = epoch
	m.trainLoss = loss
}

// RecordEval stores the outcome of an evaluation pass.
func (m *Monitor) RecordEval(loss, accuracy float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = "evaluating"
	m.evalLoss = loss
	m.evalAccuracy = accuracy
}

// SetDone marks the run complete.
func (m *Monitor) SetDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = "done"
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	status := Status{
		State:        m.state,
		Timestamp:    time.Now(),
		Uptime:       time.Since(m.startTime).String(),
		Epoch:        m.epoch,
		TotalEpochs:  m.totalEpochs,
		TrainLoss:    m.trainLoss,
		EvalLoss:     m.evalLoss,
		EvalAccuracy: m.evalAccuracy,
		System:       systemInfo(),
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func systemInfo() SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(ms.Sys / 1024 / 1024),
		MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
	}
}

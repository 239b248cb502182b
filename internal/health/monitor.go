package health

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pam-platform/reliability/pkg/logger"
)

// Overall service status, the worst status across all checks.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Alert thresholds. Memory and error-rate breaches raise alerts at two
// severities; low throughput only matters during business hours.
const (
	memoryMediumPercent = 85.0
	memoryHighPercent   = 95.0
	errorRateMedium     = 0.10
	errorRateHigh       = 0.20
	lowThroughputRPS    = 0.1

	alertCooldown = 15 * time.Minute
)

// Alert is a threshold breach notice.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertSink receives raised alerts. The engine wires this to the
// notification dispatcher's operational channel.
type AlertSink func(alert Alert)

// Config controls the monitor's sampling cadence and disk probe target.
type Config struct {
	Interval time.Duration
	DiskPath string
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		DiskPath: "/",
	}
}

// Snapshot is the full health picture returned by the /health endpoint.
type Snapshot struct {
	Status  string         `json:"status"`
	System  SystemMetrics  `json:"system"`
	Service ServiceMetrics `json:"service"`
	Checks  []CheckResult  `json:"checks"`
}

// Monitor samples system resources on an interval, runs registered checks,
// and raises deduplicated threshold alerts.
type Monitor struct {
	config   Config
	tracker  *Tracker
	log      *logger.Logger
	sink     AlertSink
	cooldown *ttlcache.Cache[string, time.Time]
	now      func() time.Time

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    SystemMetrics
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a monitor. A nil sink drops alerts after logging them.
func NewMonitor(config Config, tracker *Tracker, sink AlertSink, log *logger.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.DiskPath == "" {
		config.DiskPath = DefaultConfig().DiskPath
	}
	m := &Monitor{
		config:  config,
		tracker: tracker,
		log:     log.Component("health"),
		sink:    sink,
		cooldown: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](alertCooldown),
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
		now:    time.Now,
		checks: make(map[string]CheckFunc),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.registerResourceChecks()
	return m
}

// RegisterCheck installs a named dependency check.
func (m *Monitor) RegisterCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
}

// registerResourceChecks installs the built-in resource checks, graded off
// the most recent system sample.
func (m *Monitor) registerResourceChecks() {
	m.checks["memory_usage"] = func(ctx context.Context) (CheckStatus, string) {
		return thresholdCheck("memory usage", m.LastSystem().MemoryPercent, memoryMediumPercent, memoryHighPercent)
	}
	m.checks["cpu_usage"] = func(ctx context.Context) (CheckStatus, string) {
		return thresholdCheck("cpu usage", m.LastSystem().CPUPercent, 80.0, 95.0)
	}
	m.checks["disk_space"] = func(ctx context.Context) (CheckStatus, string) {
		return thresholdCheck("disk usage", m.LastSystem().DiskPercent, 85.0, 95.0)
	}
}

// LastSystem returns the most recent resource sample.
func (m *Monitor) LastSystem() SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start launches the sampling loop. Call Stop to shut it down.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.cooldown.Start()
	go m.loop(ctx)
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	m.cooldown.Stop()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ticker.C:
			m.sample(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sample takes one resource reading, publishes gauges, and evaluates alert
// thresholds.
func (m *Monitor) sample(ctx context.Context) {
	sys := sampleSystem(ctx, m.config.DiskPath)

	m.mu.Lock()
	m.last = sys
	m.mu.Unlock()

	svc := m.tracker.Metrics()

	CPUPercentGauge.Set(sys.CPUPercent)
	MemoryPercentGauge.Set(sys.MemoryPercent)
	DiskPercentGauge.Set(sys.DiskPercent)
	ErrorRateGauge.Set(svc.ErrorRate)
	ThroughputGauge.Set(svc.RequestsPerSecond)

	m.evaluateAlerts(sys, svc)
}

// Snapshot runs all checks and rolls their statuses up into one overall
// status. Any critical check makes the whole snapshot critical.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()

	snap := Snapshot{
		Status:  StatusHealthy,
		System:  m.LastSystem(),
		Service: m.tracker.Metrics(),
	}
	for _, name := range names {
		m.mu.RLock()
		fn := m.checks[name]
		m.mu.RUnlock()

		result := runCheck(ctx, name, fn)
		snap.Checks = append(snap.Checks, result)

		switch result.Status {
		case CheckCritical:
			snap.Status = StatusCritical
		case CheckDegraded:
			if snap.Status != StatusCritical {
				snap.Status = StatusDegraded
			}
		}
	}
	return snap
}

// evaluateAlerts raises threshold alerts, deduplicating by alert type for
// the cooldown period.
func (m *Monitor) evaluateAlerts(sys SystemMetrics, svc ServiceMetrics) {
	switch {
	case sys.MemoryPercent > memoryHighPercent:
		m.raise("high_memory_usage", "high", sys.MemoryPercent, "memory usage critically high")
	case sys.MemoryPercent > memoryMediumPercent:
		m.raise("high_memory_usage", "medium", sys.MemoryPercent, "memory usage elevated")
	}

	switch {
	case svc.ErrorRate > errorRateHigh:
		m.raise("high_error_rate", "high", svc.ErrorRate, "error rate critically high")
	case svc.ErrorRate > errorRateMedium:
		m.raise("high_error_rate", "medium", svc.ErrorRate, "error rate elevated")
	}

	if svc.RequestsPerSecond < lowThroughputRPS && isBusinessHours(m.now()) {
		m.raise("low_throughput", "low", svc.RequestsPerSecond, "throughput below expected floor")
	}
}

func (m *Monitor) raise(alertType, severity string, value float64, message string) {
	if m.cooldown.Has(alertType) {
		return
	}
	m.cooldown.Set(alertType, m.now(), ttlcache.DefaultTTL)

	alert := Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Timestamp: m.now().UTC(),
	}
	AlertsRaisedTotal.WithLabelValues(alertType).Inc()
	m.log.Warn("health alert raised",
		"alert_type", alertType,
		"severity", severity,
		"value", value,
	)
	if m.sink != nil {
		m.sink(alert)
	}
}

// isBusinessHours reports whether t falls in weekday working hours, when a
// quiet service is suspicious rather than normal.
func isBusinessHours(t time.Time) bool {
	t = t.UTC()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 18
}

package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// CommitBuckets for synchronous store commits (fsync dominated)
	CommitBuckets = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// WaitBuckets for suspended GetUpdateSince calls
	WaitBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60, 300}
)

// Publish kit metrics
var (
	// KitOperationsTotal counts producer operations by op (publish, finish, fail)
	// and result (ok, terminated, commit_failed)
	KitOperationsTotal CounterVec = noopCounterVec{}

	// KitCommitSeconds measures the durable commit of a kit state transition
	KitCommitSeconds Histogram = NoopStat{}

	// KitWaitSeconds measures how long suspended subscribers waited by outcome
	// (resolved, cancelled)
	KitWaitSeconds HistogramVec = noopHistogramVec{}

	// KitWaiters tracks subscribers currently suspended across all live kits
	KitWaiters Gauge = NoopStat{}

	// KitsLive tracks kits resident in memory
	KitsLive Gauge = NoopStat{}

	// KitTerminalTotal counts terminal transitions by status (finished, failed)
	KitTerminalTotal CounterVec = noopCounterVec{}
)

// Provisioning and store metrics
var (
	// ProvideTotal counts Provide calls by result (constructed, revived, cached, error)
	ProvideTotal CounterVec = noopCounterVec{}

	// StoreCommitTotal counts baggage commits by backend and result (ok, error)
	StoreCommitTotal CounterVec = noopCounterVec{}

	// StoreLoadTotal counts baggage loads by backend and result (hit, miss, error)
	StoreLoadTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	KitOperationsTotal = NewCounterVec(
		"kit_operations_total",
		"Producer operations by op and result",
		[]string{"op", "result"},
	)
	KitCommitSeconds = NewHistogramWithBuckets(
		"kit_commit_seconds",
		"Durable commit duration of kit state transitions in seconds",
		CommitBuckets,
	)
	KitWaitSeconds = NewHistogramVec(
		"kit_wait_seconds",
		"Time subscribers spent suspended in seconds",
		[]string{"outcome"},
		WaitBuckets,
	)
	KitWaiters = NewGauge(
		"kit_waiters",
		"Number of currently suspended subscribers",
	)
	KitsLive = NewGauge(
		"kits_live",
		"Number of kits resident in memory",
	)
	KitTerminalTotal = NewCounterVec(
		"kit_terminal_total",
		"Terminal transitions by status",
		[]string{"status"},
	)

	ProvideTotal = NewCounterVec(
		"provide_total",
		"Singleton provisioning calls by result",
		[]string{"result"},
	)
	StoreCommitTotal = NewCounterVec(
		"store_commit_total",
		"Store commits by backend and result",
		[]string{"backend", "result"},
	)
	StoreLoadTotal = NewCounterVec(
		"store_load_total",
		"Store loads by backend and result",
		[]string{"backend", "result"},
	)
}

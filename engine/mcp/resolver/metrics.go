package resolver

import "sync/atomic"

// Metrics provides basic observability for resolution operations
type Metrics struct {
	Resolutions       int64 `json:"resolutions"`
	ServersAccepted   int64 `json:"servers_accepted"`
	ServersRejected   int64 `json:"servers_rejected"`
	RequestOptOuts    int64 `json:"request_opt_outs"`
	StoreDegradations int64 `json:"store_degradations"`
	StaticReloads     int64 `json:"static_reloads"`
	StaticReloadFails int64 `json:"static_reload_failures"`
}

var globalMetrics Metrics

func incrementResolution() {
	atomic.AddInt64(&globalMetrics.Resolutions, 1)
}

func addServersAccepted(n int64) {
	atomic.AddInt64(&globalMetrics.ServersAccepted, n)
}

func addServersRejected(n int64) {
	atomic.AddInt64(&globalMetrics.ServersRejected, n)
}

func incrementRequestOptOut() {
	atomic.AddInt64(&globalMetrics.RequestOptOuts, 1)
}

func incrementStoreDegradation() {
	atomic.AddInt64(&globalMetrics.StoreDegradations, 1)
}

func incrementStaticReload() {
	atomic.AddInt64(&globalMetrics.StaticReloads, 1)
}

func incrementStaticReloadFail() {
	atomic.AddInt64(&globalMetrics.StaticReloadFails, 1)
}

// GetMetrics returns the current metrics values
func GetMetrics() Metrics {
	return Metrics{
		Resolutions:       atomic.LoadInt64(&globalMetrics.Resolutions),
		ServersAccepted:   atomic.LoadInt64(&globalMetrics.ServersAccepted),
		ServersRejected:   atomic.LoadInt64(&globalMetrics.ServersRejected),
		RequestOptOuts:    atomic.LoadInt64(&globalMetrics.RequestOptOuts),
		StoreDegradations: atomic.LoadInt64(&globalMetrics.StoreDegradations),
		StaticReloads:     atomic.LoadInt64(&globalMetrics.StaticReloads),
		StaticReloadFails: atomic.LoadInt64(&globalMetrics.StaticReloadFails),
	}
}

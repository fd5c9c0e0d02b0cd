package metrics

import (
	"strconv"
	"time"
)

// Collector is the process-wide collector served on the metrics endpoint.
var Collector = NewMetricsCollector("pinyinbot")

var (
	durationBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60}
	sizeBuckets     = []float64{50e3, 100e3, 250e3, 500e3, 1e6, 2e6, 3e6, 5e6}
)

// UpdateReceived counts one inbound update by its classification.
func UpdateReceived(kind string) {
	Collector.Counter("pinyinbot_updates_total", "Inbound updates by classification", Labels("kind", kind)).Inc()
}

// UpdateDuplicate counts an update skipped by deduplication.
func UpdateDuplicate() {
	Collector.Counter("pinyinbot_updates_duplicate_total", "Updates skipped as redeliveries", "").Inc()
}

// TranslationFinished records one completion call.
func TranslationFinished(provider, status string, d time.Duration) {
	Collector.Counter("pinyinbot_translations_total", "Completion requests by provider and outcome",
		Labels("provider", provider, "status", status)).Inc()
	Collector.Histogram("pinyinbot_translation_duration_seconds", "End-to-end photo translation latency", "",
		durationBuckets).Observe(d.Seconds())
}

// ErrorObserved counts a failed request by error kind.
func ErrorObserved(kind string) {
	Collector.Counter("pinyinbot_errors_total", "Failed requests by error kind", Labels("kind", kind)).Inc()
}

// ImagePayload records the byte size of an image sent to a provider.
func ImagePayload(n int) {
	Collector.Histogram("pinyinbot_image_bytes", "Image payload size sent to the provider", "",
		sizeBuckets).Observe(float64(n))
}

// ReplyFailed counts replies the platform did not accept.
func ReplyFailed() {
	Collector.Counter("pinyinbot_reply_failures_total", "sendMessage calls that failed", "").Inc()
}

// DirectRequest counts direct-endpoint responses by HTTP status.
func DirectRequest(status int) {
	Collector.Counter("pinyinbot_direct_requests_total", "Direct translate endpoint responses by status",
		Labels("status", strconv.Itoa(status))).Inc()
}

package observability

// Metric names shared between wiring and instrumentation call sites.
const (
	MUsecaseRequests         = "usecase_requests_total"
	MUsecaseDuration         = "usecase_duration_seconds"
	MHTTPRequests            = "http_requests_total"
	MHTTPRequestDuration     = "http_request_duration_seconds"
	MInventoryRequests       = "inventory_requests_total"
	MInventoryRequestLatency = "inventory_request_duration_seconds"
	MCompensationFailed      = "compensation_failed_total"
	MEventRelayed            = "order_events_relayed_total"
)

package metrics

// Pre-defined metrics for the LocalSend CLI. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Discovery metrics ----

	// BeaconsSent counts multicast announcements broadcast by the sender.
	BeaconsSent = DefaultRegistry.Counter("discovery.beacons_sent")
	// BeaconsReceived counts multicast datagrams accepted by the listener.
	BeaconsReceived = DefaultRegistry.Counter("discovery.beacons_received")
	// BeaconsRejected counts datagrams dropped for malformed JSON, a bad
	// signature, or a code hash that does not match the session phrase.
	BeaconsRejected = DefaultRegistry.Counter("discovery.beacons_rejected")

	// ---- HTTP server metrics ----

	// HTTPRequests counts incoming requests on the transfer server.
	HTTPRequests = DefaultRegistry.Counter("http.requests")
	// HTTPAuthFailures counts requests rejected for missing, stale, or
	// forged authentication proofs.
	HTTPAuthFailures = DefaultRegistry.Counter("http.auth_failures")
	// HTTPRateLimited counts requests rejected by the per-IP rate limiter.
	HTTPRateLimited = DefaultRegistry.Counter("http.rate_limited")
	// HTTPInFlight gauges requests currently being handled.
	HTTPInFlight = DefaultRegistry.Gauge("http.in_flight")
	// HTTPRequestTime records request handling duration in milliseconds.
	HTTPRequestTime = DefaultRegistry.Histogram("http.request_ms")

	// ---- Transfer metrics ----

	// SessionsOpened counts transfer sessions registered by the sender.
	SessionsOpened = DefaultRegistry.Counter("transfer.sessions_opened")
	// FilesDelivered counts files fully streamed to a receiver.
	FilesDelivered = DefaultRegistry.Counter("transfer.files_delivered")
	// FilesReceived counts files fully written by the receiver.
	FilesReceived = DefaultRegistry.Counter("transfer.files_received")
	// BytesSent meters payload bytes streamed out by the sender.
	BytesSent = DefaultRegistry.Meter("transfer.bytes_sent")
	// BytesReceived meters payload bytes written by the receiver.
	BytesReceived = DefaultRegistry.Meter("transfer.bytes_received")
)

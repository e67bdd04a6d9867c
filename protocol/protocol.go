// Package protocol defines the wire layer shared by the sender and the
// receiver: the LocalSend v2 JSON messages, the multicast discovery
// envelope, and the HMAC authentication primitives keyed by the code
// phrase. Everything else in the repository talks JSON through the types
// declared here; raw maps never cross a package boundary.
package protocol

import "time"

const (
	// Version is the LocalSend protocol version announced on the wire.
	Version = "2.1"

	// MulticastGroup is the IPv4 multicast group used for discovery.
	MulticastGroup = "224.0.0.167"

	// DefaultPort is the canonical LocalSend port, used for both the
	// multicast listener and the first TCP port probe.
	DefaultPort = 53317

	// PortRangeEnd bounds the TCP port probe: ports are tried in
	// [DefaultPort, PortRangeEnd).
	PortRangeEnd = 53417

	// APIPrefix is the path prefix shared by every HTTP endpoint.
	APIPrefix = "/api/localsend/v2"

	// Route suffixes under APIPrefix.
	InfoPath          = "/info"
	PrepareUploadPath = "/prepare-upload"
	DownloadPath      = "/download"

	// Alias is the human-readable device name announced by this client.
	Alias = "LocalSend CLI"

	// DeviceModel is announced in beacons and /info responses.
	DeviceModel = "CLI"

	// Device types seen on the wire.
	DeviceTypeHeadless = "headless"
	DeviceTypeMobile   = "mobile"
	DeviceTypeDesktop  = "desktop"

	// Transport schemes advertised in the beacon "protocol" field.
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"

	// AuthWindow is the maximum clock skew tolerated when validating the
	// handshake timestamp.
	AuthWindow = 5 * time.Minute

	// AnnounceInterval is the period between discovery beacons.
	AnnounceInterval = 500 * time.Millisecond
)

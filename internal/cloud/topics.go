package cloud

import (
	"fmt"
	"strings"
)

// Topics derives the platform topic strings for one device identity.
//
// The strings are part of the interoperability surface with the cloud
// platform and must match it byte for byte. Constructed once from the
// product key and device key at engine construction; immutable.
type Topics struct {
	ProductKey string
	DeviceKey  string
}

// PropertyPost returns the topic for publishing property batches.
//
// Example: /sys/P/D/thing/event/property/post
func (t Topics) PropertyPost() string {
	return fmt.Sprintf("/sys/%s/%s/thing/event/property/post", t.ProductKey, t.DeviceKey)
}

// PropertyPostReply returns the topic carrying property post acknowledgements.
//
// Example: /sys/P/D/thing/event/property/post_reply
func (t Topics) PropertyPostReply() string {
	return fmt.Sprintf("/sys/%s/%s/thing/event/property/post_reply", t.ProductKey, t.DeviceKey)
}

// PropertySet returns the topic carrying cloud-initiated property writes.
//
// Example: /sys/P/D/thing/service/property/set
func (t Topics) PropertySet() string {
	return fmt.Sprintf("/sys/%s/%s/thing/service/property/set", t.ProductKey, t.DeviceKey)
}

// EventPost returns the topic for publishing one event.
//
// Example: /sys/P/D/thing/event/sos_alert/post
func (t Topics) EventPost(event string) string {
	return fmt.Sprintf("/sys/%s/%s/thing/event/%s/post", t.ProductKey, t.DeviceKey, event)
}

// EventPostReply returns the topic carrying one event's post acknowledgements.
//
// Example: /sys/P/D/thing/event/sos_alert/post_reply
func (t Topics) EventPostReply(event string) string {
	return fmt.Sprintf("/sys/%s/%s/thing/event/%s/post_reply", t.ProductKey, t.DeviceKey, event)
}

// OTADeviceInform returns the topic for reporting module versions.
//
// Example: /ota/device/inform/P/D
func (t Topics) OTADeviceInform() string {
	return fmt.Sprintf("/ota/device/inform/%s/%s", t.ProductKey, t.DeviceKey)
}

// OTADeviceUpgrade returns the topic carrying upgrade pushes from the cloud.
//
// Example: /ota/device/upgrade/P/D
func (t Topics) OTADeviceUpgrade() string {
	return fmt.Sprintf("/ota/device/upgrade/%s/%s", t.ProductKey, t.DeviceKey)
}

// OTADeviceProgress returns the topic for reporting upgrade progress.
//
// Example: /ota/device/progress/P/D
func (t Topics) OTADeviceProgress() string {
	return fmt.Sprintf("/ota/device/progress/%s/%s", t.ProductKey, t.DeviceKey)
}

// FirmwareGet returns the topic for requesting the current firmware plan.
//
// Example: /sys/P/D/thing/ota/firmware/get
func (t Topics) FirmwareGet() string {
	return fmt.Sprintf("/sys/%s/%s/thing/ota/firmware/get", t.ProductKey, t.DeviceKey)
}

// FirmwareGetReply returns the topic carrying firmware plan replies.
//
// Example: /sys/P/D/thing/ota/firmware/get_reply
func (t Topics) FirmwareGetReply() string {
	return fmt.Sprintf("/sys/%s/%s/thing/ota/firmware/get_reply", t.ProductKey, t.DeviceKey)
}

// FileDownload returns the topic for requesting one firmware file block.
//
// Example: /sys/P/D/thing/file/download
func (t Topics) FileDownload() string {
	return fmt.Sprintf("/sys/%s/%s/thing/file/download", t.ProductKey, t.DeviceKey)
}

// FileDownloadReply returns the topic carrying file block replies.
//
// Example: /sys/P/D/thing/file/download_reply
func (t Topics) FileDownloadReply() string {
	return fmt.Sprintf("/sys/%s/%s/thing/file/download_reply", t.ProductKey, t.DeviceKey)
}

// RRPCRequestWildcard returns the subscription pattern matching all inbound
// RPC requests.
//
// Pattern: /sys/P/D/rrpc/request/+
func (t Topics) RRPCRequestWildcard() string {
	return fmt.Sprintf("/sys/%s/%s/rrpc/request/+", t.ProductKey, t.DeviceKey)
}

// RRPCResponse returns the per-request topic for publishing an RPC reply.
//
// Example: /sys/P/D/rrpc/response/12345
func (t Topics) RRPCResponse(requestID string) string {
	return fmt.Sprintf("/sys/%s/%s/rrpc/response/%s", t.ProductKey, t.DeviceKey, requestID)
}

// =============================================================================
// Inbound classification
// =============================================================================

// MessageKind is the closed set of inbound message classes. A topic is
// classified exactly once at dispatch; everything downstream switches on
// the kind instead of re-scanning the topic string.
type MessageKind int

// Inbound message kinds. Where suffixes could overlap, classification
// follows this declaration order.
const (
	// KindUnknown marks topics outside the device's namespace; ignored.
	KindUnknown MessageKind = iota

	// KindPostReply acknowledges a property or event post.
	KindPostReply

	// KindPropertySet carries a cloud-initiated property write.
	KindPropertySet

	// KindOTAUpgrade carries an upgrade push from the OTA service.
	KindOTAUpgrade

	// KindFirmwareGetReply answers a firmware plan request.
	KindFirmwareGetReply

	// KindFileDownloadReply answers a file block request.
	KindFileDownloadReply

	// KindRRPCRequest carries an inbound RPC call. RPC requests are not
	// acknowledgements and never resolve a pending correlation.
	KindRRPCRequest
)

// String returns the kind's name for logging.
func (k MessageKind) String() string {
	switch k {
	case KindPostReply:
		return "post_reply"
	case KindPropertySet:
		return "property_set"
	case KindOTAUpgrade:
		return "ota_upgrade"
	case KindFirmwareGetReply:
		return "firmware_get_reply"
	case KindFileDownloadReply:
		return "file_download_reply"
	case KindRRPCRequest:
		return "rrpc_request"
	default:
		return "unknown"
	}
}

// Classify maps an inbound topic onto its message kind.
func Classify(topic string) MessageKind {
	switch {
	case strings.HasSuffix(topic, "/post_reply"):
		return KindPostReply
	case strings.HasSuffix(topic, "/property/set"):
		return KindPropertySet
	case strings.HasPrefix(topic, "/ota/device/upgrade/"):
		return KindOTAUpgrade
	case strings.HasSuffix(topic, "/thing/ota/firmware/get_reply"):
		return KindFirmwareGetReply
	case strings.HasSuffix(topic, "/thing/file/download_reply"):
		return KindFileDownloadReply
	case strings.Contains(topic, "/rrpc/request/"):
		return KindRRPCRequest
	default:
		return KindUnknown
	}
}

// RRPCRequestID extracts the request identifier from an inbound RPC topic.
// Returns "" when the topic is not an RPC request.
func RRPCRequestID(topic string) string {
	const marker = "/rrpc/request/"
	idx := strings.Index(topic, marker)
	if idx < 0 {
		return ""
	}
	return topic[idx+len(marker):]
}

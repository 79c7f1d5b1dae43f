package event

import (
	"fmt"
	"log/slog"
)

// Platform ids from the provider documentation.
const PlatformLinux = 6

var platformNames = map[int64]string{
	0: "Other",
	1: "Android",
	2: "iOS",
	5: "Windows",
	6: "Linux",
	7: "Web",
	8: "macOS",
}

var productNames = map[int64]string{
	1: "Realtime Communication (RTC)",
	3: "Cloud Recording",
	4: "Media Pull",
	5: "Media Push",
}

// Client type ids, only meaningful when platform is Linux.
var clientTypeNames = map[int64]string{
	3:  "Local server recording",
	8:  "Applets",
	10: "Cloud recording",
}

// Reason codes attached to leave events.
const (
	ReasonNormal        = 1
	ReasonTimeout       = 2
	ReasonPermissions   = 3
	ReasonServerLoad    = 4
	ReasonDeviceSwitch  = 5
	ReasonIPSwitch      = 9
	ReasonNetworkFail   = 10
	ReasonAbnormalUser  = 999
	ReasonOther         = 0
)

var reasonNames = map[int64]string{
	ReasonNormal:       "normal",
	ReasonTimeout:      "connection timeout",
	ReasonPermissions:  "permissions",
	ReasonServerLoad:   "server-load adjustment",
	ReasonDeviceSwitch: "device switch",
	ReasonIPSwitch:     "multiple-IP switching",
	ReasonNetworkFail:  "network failure",
	ReasonAbnormalUser: "abnormal user",
	ReasonOther:        "other/unknown",
}

// PlatformName renders a platform id, combining the client type for
// Linux rows ("Linux (Cloud recording)").
func PlatformName(platform, clientType *int64) string {
	if platform == nil {
		return "N/A"
	}
	name, ok := platformNames[*platform]
	if !ok {
		name = fmt.Sprintf("%d", *platform)
	}
	if *platform == PlatformLinux && clientType != nil {
		ct, ok := clientTypeNames[*clientType]
		if !ok {
			ct = fmt.Sprintf("%d", *clientType)
		}
		return fmt.Sprintf("%s (%s)", name, ct)
	}
	return name
}

// ProductName renders a product id.
func ProductName(product int64) string {
	if name, ok := productNames[product]; ok {
		return name
	}
	return fmt.Sprintf("%d", product)
}

// ReasonName renders a leave reason code.
func ReasonName(reason int64) string {
	if name, ok := reasonNames[reason]; ok {
		return name
	}
	return fmt.Sprintf("%d", reason)
}

// LogUnknownCodes warns about platform/product ids outside the mapping
// tables so they can be added later.
func LogUnknownCodes(logger *slog.Logger, n Notification) {
	if p := n.Payload.Platform; p != nil {
		if _, ok := platformNames[*p]; !ok {
			logger.Warn("unknown platform id",
				"platform", *p,
				"event_type", n.EventType,
				"channel", n.Payload.ChannelName,
			)
		}
	}
	if _, ok := productNames[n.ProductID]; !ok {
		logger.Warn("unknown product id",
			"product_id", n.ProductID,
			"event_type", n.EventType,
			"channel", n.Payload.ChannelName,
		)
	}
}

package registry

import (
	"strings"

	"github.com/fileferry/fileferry/pkg/protocol"
)

// Classify assigns a device class from the registration payload. A valid
// client-supplied type wins; otherwise the browser and name strings are
// inspected, the same signals browsers expose in their user-agent string.
// Anything unrecognized is a desktop.
func Classify(raw protocol.RegisterDevice) protocol.DeviceClass {
	if c := protocol.DeviceClass(strings.ToLower(raw.Type)); protocol.ValidDeviceClass(c) {
		return c
	}

	env := strings.ToLower(raw.Browser + " " + raw.Name)
	switch {
	case strings.Contains(env, "ipad"), strings.Contains(env, "tablet"):
		return protocol.DeviceTablet
	case strings.Contains(env, "android") && !strings.Contains(env, "mobile"):
		// Android tablets carry "Android" without the "Mobile" token.
		return protocol.DeviceTablet
	case strings.Contains(env, "iphone"),
		strings.Contains(env, "android"),
		strings.Contains(env, "mobile"):
		return protocol.DeviceMobile
	default:
		return protocol.DeviceDesktop
	}
}

// Package platform decides which push channel a connecting client should
// use. Detection runs once per registration from the capabilities the
// client reports, instead of re-parsing identifier strings at call sites.
package platform

import (
	"strings"

	"github.com/stridecampus/internal/model"
)

// The native wrapper appends this marker to the browser identification
// string of its embedded web view.
const NativeMarker = "StrideCampusApp"

// Capabilities is what the client reports about its runtime.
type Capabilities struct {
	UserAgent     string `json:"user_agent"`
	ServiceWorker bool   `json:"service_worker"`
	Notifications bool   `json:"notifications"`
	PushManager   bool   `json:"push_manager"`
}

// Selection is the resolved platform decision.
type Selection struct {
	Kind      model.ChannelKind `json:"kind"`
	Supported bool              `json:"supported"`
}

// Detect resolves the preferred channel. Order: the native wrapper wins,
// then a browser exposing the full Web Push surface, then explicit
// unsupported, never a silent no-op.
func Detect(caps Capabilities) Selection {
	if strings.Contains(caps.UserAgent, NativeMarker) {
		return Selection{Kind: model.ChannelExpo, Supported: true}
	}
	if caps.ServiceWorker && caps.Notifications && caps.PushManager {
		return Selection{Kind: model.ChannelWebPush, Supported: true}
	}
	return Selection{Kind: model.ChannelNone, Supported: false}
}

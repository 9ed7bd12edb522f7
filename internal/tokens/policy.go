package tokens

// Gateway error codes that mean the stored address is permanently dead.
// Anything transient (rate limiting, payload too big, server errors) keeps
// the token so the next dispatch can succeed.
const (
	CodeDeviceNotRegistered = "DeviceNotRegistered" // Expo: app uninstalled or token revoked
	CodeInvalidCredentials  = "InvalidCredentials"  // Expo: push credentials no longer valid
	CodeSubscriptionGone    = "SubscriptionGone"    // Web Push: 404/410 from the push service
)

// ShouldClearToken decides whether a gateway-reported error code invalidates
// the stored push target. One policy function, used at every call site.
func ShouldClearToken(code string) bool {
	switch code {
	case CodeDeviceNotRegistered, CodeInvalidCredentials, CodeSubscriptionGone:
		return true
	default:
		return false
	}
}

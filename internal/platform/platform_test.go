package platform

import (
	"testing"

	"github.com/stridecampus/internal/model"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want Selection
	}{
		{
			name: "native wrapper",
			caps: Capabilities{UserAgent: "Mozilla/5.0 (iPhone) " + NativeMarker + "/1.4.2"},
			want: Selection{Kind: model.ChannelExpo, Supported: true},
		},
		{
			name: "native wrapper wins over full web push surface",
			caps: Capabilities{
				UserAgent:     "Mozilla/5.0 (Android) " + NativeMarker + "/2.0",
				ServiceWorker: true, Notifications: true, PushManager: true,
			},
			want: Selection{Kind: model.ChannelExpo, Supported: true},
		},
		{
			name: "browser with full web push surface",
			caps: Capabilities{
				UserAgent:     "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0",
				ServiceWorker: true, Notifications: true, PushManager: true,
			},
			want: Selection{Kind: model.ChannelWebPush, Supported: true},
		},
		{
			name: "browser missing push manager",
			caps: Capabilities{
				UserAgent:     "Mozilla/5.0 Safari/605.1.15",
				ServiceWorker: true, Notifications: true,
			},
			want: Selection{Kind: model.ChannelNone, Supported: false},
		},
		{
			name: "browser missing service worker",
			caps: Capabilities{
				UserAgent:     "Mozilla/5.0",
				Notifications: true, PushManager: true,
			},
			want: Selection{Kind: model.ChannelNone, Supported: false},
		},
		{
			name: "no capabilities at all",
			caps: Capabilities{},
			want: Selection{Kind: model.ChannelNone, Supported: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.caps); got != tt.want {
				t.Errorf("Detect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

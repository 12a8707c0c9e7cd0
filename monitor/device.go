package monitor

import "github.com/arisehq/live-monitor/types"

// Wifi strength buckets in dBm.
const (
	wifiStrong = -67
	wifiOkay   = -80
)

// ClassifyDevice turns a heartbeat poll result into its display
// classification. A transport error maps to a distinct "error" state
// so the dashboard can tell a dead device from a dead network.
func ClassifyDevice(resp *types.DeviceStatusResponse, err error) types.DeviceView {
	if err != nil || resp == nil {
		return types.DeviceView{State: "error", Message: "Cannot fetch device status"}
	}

	switch resp.Status {
	case "online":
		return types.DeviceView{
			State:      "online",
			Signal:     signalBucket(resp.WifiStrength),
			Battery:    resp.Battery,
			QueueCount: resp.QueueCount,
			SyncCount:  resp.SyncCount,
		}
	case "offline":
		if resp.LastSeen == nil {
			return types.DeviceView{State: "offline", Message: "Waiting for device..."}
		}
		return types.DeviceView{
			State:           "offline",
			Battery:         resp.Battery,
			QueueCount:      resp.QueueCount,
			LastSeenSeconds: resp.LastSeen,
		}
	default:
		msg := resp.Message
		if msg == "" {
			msg = "Check connection"
		}
		return types.DeviceView{State: "unknown", Message: msg}
	}
}

func signalBucket(strength *int) string {
	if strength == nil {
		return "Weak"
	}
	switch {
	case *strength > wifiStrong:
		return "Strong"
	case *strength > wifiOkay:
		return "Okay"
	default:
		return "Weak"
	}
}

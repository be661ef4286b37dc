package whatsapp

import "zapcrm/internal/models"

// InstanceStatus maps a gateway connection state to an instance status.
// The second result is false for states that do not change the status.
func InstanceStatus(state string) (string, bool) {
	switch state {
	case "open":
		return models.InstanceConnected, true
	case "connecting":
		return models.InstanceConnecting, true
	case "close":
		return models.InstanceDisconnected, true
	}
	return "", false
}

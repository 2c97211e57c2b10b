// SPDX-License-Identifier: MIT
package route

import (
	"fmt"
	"time"
)

// Reason is why the audio route changed.
type Reason int

const (
	DeviceAdded Reason = iota
	DeviceRemoved
	WokeFromSleep
	CategoryChanged
)

func (r Reason) String() string {
	switch r {
	case DeviceAdded:
		return "device-added"
	case DeviceRemoved:
		return "device-removed"
	case WokeFromSleep:
		return "woke-from-sleep"
	case CategoryChanged:
		return "category-changed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Event is one route change. Device names the card for DeviceAdded and
// DeviceRemoved.
type Event struct {
	Reason Reason
	Device string
	Time   time.Time
}

func (e Event) String() string {
	if e.Device != "" {
		return fmt.Sprintf("%s (%s)", e.Reason, e.Device)
	}
	return e.Reason.String()
}

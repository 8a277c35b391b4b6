package poller

import "strconv"

// Unread states below zero carry meaning: the count is unknown until the
// first successful poll, and logged-out is its own state.
const (
	CountUnknown   = -2
	CountLoggedOut = -1
)

// badgeMax is the largest count rendered literally.
const badgeMax = 99

// BadgeSink receives badge updates. The grayed flag marks the
// logged-out rendering.
type BadgeSink interface {
	SetBadge(text string, grayed bool)
}

// BadgeText renders an unread state as badge text.
func BadgeText(count int) (text string, grayed bool) {
	switch {
	case count == CountLoggedOut:
		return "?", true
	case count <= 0:
		return "", false
	case count > badgeMax:
		return strconv.Itoa(badgeMax) + "+", false
	default:
		return strconv.Itoa(count), false
	}
}

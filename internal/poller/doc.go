// Package poller drives the unread-message cycle: it fetches counts on
// an exponentially backed-off interval, reconciles them with the
// stored state, updates the badge, and announces increases with a
// notification and an icon spin.
package poller

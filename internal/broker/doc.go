// Package broker connects page scripts and the call widget to the
// daemon over WebSocket. Messages carry an action name and are
// dispatched to the store, the cached profile, or the telephony
// client; widget control events are relayed to the other connections.
package broker

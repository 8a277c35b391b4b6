// Package voice implements the client for the remote telephony API:
// unread counts, account profile, inbox listing, SMS send, message
// actions, and click-to-call.
//
// The client layers rate limiting (golang.org/x/time/rate) and a
// circuit breaker over resty, with retryablehttp providing the
// transport. Mutating endpoints carry the _rnr_se session token and
// retry exactly once; reads never retry because the poller owns
// failure backoff.
package voice

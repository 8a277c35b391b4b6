package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/voicelink/voicelink/internal/resilience"
)

// SMS size limits. Messages longer than one segment are split by the
// carrier; the API rejects anything past the hard maximum.
const (
	SMSSegmentLength = 160
	SMSMaxLength     = 440
)

// ErrSMSTooLong is returned before the API is contacted.
var ErrSMSTooLong = fmt.Errorf("message exceeds %d characters", SMSMaxLength)

const (
	endpointUnread    = "/request/unread/"
	endpointUser      = "/request/user/"
	endpointInbox     = "/request/messages/"
	endpointSendSMS   = "/sms/send/"
	endpointMark      = "/inbox/mark/"
	endpointArchive   = "/inbox/archiveMessages/"
	endpointDelete    = "/inbox/deleteMessages/"
	endpointConnect   = "/call/connect/"
	endpointCancel    = "/call/cancel/"
	endpointVoicemail = "/media/send_voicemail/"
)

// cancelTypeClickToCall aborts a pending click-to-call bridge.
const cancelTypeClickToCall = "C2C"

// FetchUnread retrieves per-label unread counts and the session id.
func (c *Client) FetchUnread(ctx context.Context) (*UnreadResponse, error) {
	body, err := c.get(ctx, "unread", endpointUnread)
	if err != nil {
		return nil, err
	}
	var out UnreadResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unread: decode: %w", err)
	}
	return &out, nil
}

// FetchUserData retrieves the account profile. An empty body means the
// session expired. The session token for mutating calls is refreshed
// from the response.
func (c *Client) FetchUserData(ctx context.Context) (*UserData, error) {
	body, err := c.get(ctx, "user", endpointUser)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrLoggedOut
	}
	var out UserData
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("user: decode: %w", err)
	}
	if out.R != "" {
		c.SetSessionToken(out.R)
	}
	return &out, nil
}

// FetchInbox retrieves the inbox thread list and contact map.
func (c *Client) FetchInbox(ctx context.Context) (*InboxResponse, error) {
	body, err := c.get(ctx, "inbox", endpointInbox)
	if err != nil {
		return nil, err
	}
	var out InboxResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("inbox: decode: %w", err)
	}
	return &out, nil
}

// SendSMS sends a text message, retrying once before mapping the
// failure code to its cause.
func (c *Client) SendSMS(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("sms: recipient required")
	}
	if text == "" {
		return fmt.Errorf("sms: text required")
	}
	if utf8.RuneCountInString(text) > SMSMaxLength {
		return ErrSMSTooLong
	}
	err := c.postRetry(ctx, "sms_send", endpointSendSMS, map[string]string{
		"phoneNumber": to,
		"text":        text,
	})
	if err != nil {
		return smsError(err)
	}
	return nil
}

// MarkRead updates the read flag on a thread.
func (c *Client) MarkRead(ctx context.Context, id string, read bool) error {
	flag := "0"
	if read {
		flag = "1"
	}
	return c.postRetry(ctx, "mark", endpointMark, map[string]string{
		"messages": id,
		"read":     flag,
	})
}

// Archive moves a thread out of the inbox.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.postRetry(ctx, "archive", endpointArchive, map[string]string{
		"messages": id,
		"archive":  "1",
	})
}

// Delete moves a thread to the trash.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.postRetry(ctx, "delete", endpointDelete, map[string]string{
		"messages": id,
		"trash":    "1",
	})
}

// ConnectCall bridges a call: the service rings the forwarding phone
// first, then dials the outgoing number. Not retried, a second attempt
// would place a second call.
func (c *Client) ConnectCall(ctx context.Context, outgoing, forwarding string, phoneType int) error {
	if outgoing == "" {
		return fmt.Errorf("call: outgoing number required")
	}
	if forwarding == "" {
		return fmt.Errorf("call: forwarding phone required")
	}
	return c.post(ctx, "call_connect", endpointConnect, map[string]string{
		"outgoingNumber":   outgoing,
		"forwardingNumber": forwarding,
		"phoneType":        fmt.Sprintf("%d", phoneType),
		"remember":         "0",
	})
}

// ForwardVoicemail plays a voicemail back to a forwarding phone.
func (c *Client) ForwardVoicemail(ctx context.Context, id, phone string) error {
	if id == "" {
		return fmt.Errorf("voicemail: message id required")
	}
	return c.postRetry(ctx, "send_voicemail", endpointVoicemail, map[string]string{
		"id":               id,
		"forwardingNumber": phone,
	})
}

// CancelCall aborts the pending click-to-call bridge.
func (c *Client) CancelCall(ctx context.Context) error {
	return c.post(ctx, "call_cancel", endpointCancel, map[string]string{
		"outgoingNumber":   "",
		"forwardingNumber": "",
		"cancelType":       cancelTypeClickToCall,
	})
}

// get fetches an API endpoint and returns the raw body.
func (c *Client) get(ctx context.Context, name, uri string) ([]byte, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(name, func() (*resty.Response, error) {
		return req.Get(c.apiURL(uri))
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(name, resp); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// postRetry posts a form, retrying exactly once on failure. Context
// cancellation and an open breaker end the attempt early.
func (c *Client) postRetry(ctx context.Context, name, uri string, form map[string]string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = c.post(ctx, name, uri, form)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, resilience.ErrCircuitOpen) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// post sends one form POST with the session token attached.
func (c *Client) post(ctx context.Context, name, uri string, form map[string]string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	req.SetFormData(form)
	req.SetFormData(map[string]string{"_rnr_se": c.SessionToken()})

	resp, err := c.execute(name, func() (*resty.Response, error) {
		return req.Post(c.apiURL(uri))
	})
	if err != nil {
		return err
	}
	if err := checkStatus(name, resp); err != nil {
		return err
	}

	var out actionResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("%s: decode: %w", name, err)
	}
	if !out.OK {
		return &APIError{Endpoint: name, Code: out.Data.Code.String()}
	}
	return nil
}

func checkStatus(name string, resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusUnauthorized,
		resp.StatusCode() == http.StatusForbidden:
		return ErrLoggedOut
	case resp.StatusCode() != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode())
	}
	return nil
}

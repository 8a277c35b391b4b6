package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/linker"
	"github.com/voicelink/voicelink/internal/poller"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/voice"
)

// optionKeys are the settings exposed to the options page.
var optionKeys = []string{
	store.KeyLinksOff,
	store.KeySelectOff,
	store.KeyAlertOff,
	store.KeyNotifyOff,
	store.KeyDefault,
	store.KeyAccount,
}

// Popup behaviors selectable through the default option.
const (
	popupSite  = "0"
	popupLast  = "1"
	popupInbox = "2"
)

// GetOptions returns the current settings.
func (s *Server) GetOptions(c *gin.Context) {
	options := make(map[string]string, len(optionKeys))
	for _, key := range optionKeys {
		options[key] = s.store.Get(key)
	}
	c.JSON(http.StatusOK, options)
}

// SetOptions updates settings. Changing the account invalidates
// everything derived from the old one, so the store is cleared first.
func (s *Server) SetOptions(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options payload"})
		return
	}

	if account, ok := req[store.KeyAccount]; ok && account != s.store.Get(store.KeyAccount) {
		s.log.Info("account changed, resetting state", zap.String("account", account))
		s.store.Clear()
		s.store.Set(store.KeyAccount, account)
		s.client.SetAccount(account)
		if s.poller != nil {
			s.poller.Reset()
			s.poller.PollNow()
		}
	}

	for _, key := range optionKeys {
		if key == store.KeyAccount {
			continue
		}
		if value, ok := req[key]; ok {
			s.store.Set(key, value)
		}
	}
	s.GetOptions(c)
}

// Popup resolves what the toolbar popup should open, honoring the
// configured default behavior.
func (s *Server) Popup(c *gin.Context) {
	view := popupSite
	switch s.store.Get(store.KeyDefault) {
	case popupLast:
		if tab := s.store.Get(store.KeyTab); tab != "" {
			c.JSON(http.StatusOK, gin.H{"view": "tab", "tab": tab})
			s.store.Set(store.KeyLastPopup, "tab")
			return
		}
	case popupInbox:
		if s.store.GetInt(store.KeyUnreadCount, poller.CountUnknown) > 0 {
			view = popupInbox
		}
	}

	if view == popupInbox {
		s.store.Set(store.KeyLastPopup, "inbox")
		c.JSON(http.StatusOK, gin.H{"view": "inbox"})
		return
	}
	s.store.Set(store.KeyLastPopup, "site")
	c.JSON(http.StatusOK, gin.H{"view": "site", "url": s.client.SiteURL("/")})
}

// Badge reports the unread state for any surface that renders it.
func (s *Server) Badge(c *gin.Context) {
	count := s.store.GetInt(store.KeyUnreadCount, poller.CountUnknown)
	text, grayed := poller.BadgeText(count)
	c.JSON(http.StatusOK, gin.H{
		"count":     count,
		"text":      text,
		"grayed":    grayed,
		"loggedOut": s.store.IsSet(store.KeyLoggedOut),
	})
}

type callRequest struct {
	Number    string `json:"number" binding:"required"`
	Phone     string `json:"phone"`
	PhoneType int    `json:"phoneType"`
}

// Call bridges a click-to-call. The chosen forwarding phone is
// remembered for the next dial.
func (s *Server) Call(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	if req.Phone == "" {
		req.Phone = s.store.Get(store.KeyPhone)
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no forwarding phone selected"})
		return
	}
	number := linker.Normalize(req.Number)
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}

	if err := s.client.ConnectCall(c.Request.Context(), number, req.Phone, req.PhoneType); err != nil {
		s.apiError(c, err)
		return
	}
	s.store.Set(store.KeyPhone, req.Phone)
	c.JSON(http.StatusOK, gin.H{"status": "dialing"})
}

// CancelCall aborts the pending bridge.
func (s *Server) CancelCall(c *gin.Context) {
	if err := s.client.CancelCall(c.Request.Context()); err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type smsRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// SendSMS sends a text. The draft is persisted before the attempt so a
// failed send survives a popup close, and cleared on success.
func (s *Server) SendSMS(c *gin.Context) {
	var req smsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient and text required"})
		return
	}
	if !s.profile.CanSMS() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account cannot send SMS"})
		return
	}
	if utf8.RuneCountInString(req.Text) > voice.SMSMaxLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message too long",
			"max":   voice.SMSMaxLength,
		})
		return
	}

	s.store.Set(store.KeySmsTo, req.To)
	s.store.Set(store.KeySmsText, req.Text)

	if err := s.client.SendSMS(c.Request.Context(), req.To, req.Text); err != nil {
		s.apiError(c, err)
		return
	}

	s.store.Set(store.KeySmsTo, "")
	s.store.Set(store.KeySmsText, "")
	segments := (utf8.RuneCountInString(req.Text) + voice.SMSSegmentLength - 1) / voice.SMSSegmentLength
	c.JSON(http.StatusOK, gin.H{"status": "sent", "segments": segments})
}

// SMSDraft returns the unsent draft, if any.
func (s *Server) SMSDraft(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"to":   s.store.Get(store.KeySmsTo),
		"text": s.store.Get(store.KeySmsText),
	})
}

// Inbox lists the inbox threads with the contact map. Voicemail and
// recording durations are rendered mm:ss for display.
func (s *Server) Inbox(c *gin.Context) {
	inbox, err := s.client.FetchInbox(c.Request.Context())
	if err != nil {
		s.apiError(c, err)
		return
	}
	for i := range inbox.MessageList {
		children := inbox.MessageList[i].Children
		for j := range children {
			if children[j].Duration > 0 {
				children[j].DurationText = formatDuration(children[j].Duration)
			}
		}
	}
	c.JSON(http.StatusOK, inbox)
}

func formatDuration(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

type messageRequest struct {
	ID   string `json:"id" binding:"required"`
	Read *bool  `json:"read"`
}

// MarkMessage flips the read flag on a thread and refreshes the count.
func (s *Server) MarkMessage(c *gin.Context) {
	s.messageAction(c, func(ctx context.Context, req messageRequest) error {
		read := true
		if req.Read != nil {
			read = *req.Read
		}
		return s.client.MarkRead(ctx, req.ID, read)
	})
}

// ArchiveMessage removes a thread from the inbox.
func (s *Server) ArchiveMessage(c *gin.Context) {
	s.messageAction(c, func(ctx context.Context, req messageRequest) error {
		return s.client.Archive(ctx, req.ID)
	})
}

// DeleteMessage moves a thread to the trash.
func (s *Server) DeleteMessage(c *gin.Context) {
	s.messageAction(c, func(ctx context.Context, req messageRequest) error {
		return s.client.Delete(ctx, req.ID)
	})
}

type voicemailRequest struct {
	ID    string `json:"id" binding:"required"`
	Phone string `json:"phone"`
}

// ForwardVoicemail plays a voicemail back to a forwarding phone,
// defaulting to the remembered one.
func (s *Server) ForwardVoicemail(c *gin.Context) {
	var req voicemailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id required"})
		return
	}
	if req.Phone == "" {
		req.Phone = s.store.Get(store.KeyPhone)
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no forwarding phone selected"})
		return
	}
	if err := s.client.ForwardVoicemail(c.Request.Context(), req.ID, req.Phone); err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) messageAction(c *gin.Context, fn func(context.Context, messageRequest) error) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id required"})
		return
	}
	if err := fn(c.Request.Context(), req); err != nil {
		s.apiError(c, err)
		return
	}
	if s.poller != nil {
		s.poller.PollNow()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Scan linkifies phone numbers in a posted HTML document.
func (s *Server) Scan(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	rewritten, markers, err := s.linker.ScanHTML(string(body))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"html": rewritten, "markers": markers})
}

type selectionRequest struct {
	Text string `json:"text" binding:"required"`
}

// Selection checks highlighted text for a dialable number.
func (s *Server) Selection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	number, ok := s.linker.OnSelection(req.Text)
	c.JSON(http.StatusOK, gin.H{"number": number, "match": ok})
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	status := "ok"
	if s.store.IsSet(store.KeyLoggedOut) {
		status = "logged_out"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// apiError maps client errors to HTTP responses.
func (s *Server) apiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, voice.ErrLoggedOut):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
	case errors.Is(err, voice.ErrSMSTooMany),
		errors.Is(err, voice.ErrSMSNoCredit),
		errors.Is(err, voice.ErrSMSBadDestination),
		errors.Is(err, voice.ErrSMSTooLong):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Warn("upstream call failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

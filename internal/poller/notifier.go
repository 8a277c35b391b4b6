package poller

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/voice"
)

// NotificationSink delivers alerts to the user.
type NotificationSink interface {
	Notify(title, body string)
	PlayAlert()
}

// Notifier summarizes the newest inbox entry when the unread count
// rises. Message text comes from the remote API, so it is stripped of
// markup before display.
type Notifier struct {
	store  *store.Store
	sink   NotificationSink
	policy *bluemonday.Policy
	log    *logging.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(st *store.Store, sink NotificationSink, log *logging.Logger) *Notifier {
	return &Notifier{
		store:  st,
		sink:   sink,
		policy: bluemonday.StrictPolicy(),
		log:    log,
	}
}

// NotifyNewest announces the newest inbox thread, honoring the alert
// and notification opt-outs.
func (n *Notifier) NotifyNewest(inbox *voice.InboxResponse) {
	if n.sink == nil || inbox == nil || len(inbox.MessageList) == 0 {
		return
	}

	msg := &inbox.MessageList[0]
	title, body := n.summarize(inbox, msg)
	if title == "" {
		return
	}

	alert := !n.store.IsSet(store.KeyAlertOff)
	notify := !n.store.IsSet(store.KeyNotifyOff)
	n.log.Debug("announcing message",
		zap.String("thread", msg.ID),
		zap.Bool("alert", alert),
		zap.Bool("notify", notify))

	if alert {
		n.sink.PlayAlert()
	}
	if notify {
		n.sink.Notify(title, body)
	}
}

// summarize builds the notification title and body from the newest
// entry of a thread.
func (n *Notifier) summarize(inbox *voice.InboxResponse, msg *voice.Message) (title, body string) {
	title = n.sender(inbox, msg)

	child := msg.Newest()
	switch {
	case child != nil && (child.Type == voice.MessageTypeSMSIn || child.Type == voice.MessageTypeSMSOut):
		body = "SMS: " + n.clean(child.Message)
	case child != nil && child.Type == voice.MessageTypeVoicemail:
		body = "Voicemail: " + n.clean(child.Message)
	case msg.Type == voice.MessageTypeMissedCall:
		body = "New Missed Call"
	default:
		body = ""
	}
	return title, body
}

func (n *Notifier) sender(inbox *voice.InboxResponse, msg *voice.Message) string {
	if c := inbox.Contacts.ContactPhoneMap[msg.PhoneNumber]; c != nil && c.Name != "" {
		return c.Name
	}
	if msg.DisplayNumber != "" {
		return msg.DisplayNumber
	}
	return "Unknown"
}

func (n *Notifier) clean(text string) string {
	return strings.TrimSpace(n.policy.Sanitize(text))
}

package voice

import "encoding/json"

// Message types as reported by the inbox API.
const (
	MessageTypeMissedCall = 0
	MessageTypeVoicemail  = 2
	MessageTypeRecording  = 4
	MessageTypeSMSIn      = 10
	MessageTypeSMSOut     = 11
)

// AccountTypeLite accounts have no SMS capability.
const AccountTypeLite = 5

// PhoneTypeGoogleTalk identifies the chat forwarding phone, which is not a
// click-to-call option.
const PhoneTypeGoogleTalk = 9

// UnreadResponse is the payload of the unread-count endpoint. R is the
// rotating session identifier; its change signals an account switch.
type UnreadResponse struct {
	UnreadCounts map[string]int `json:"unreadCounts"`
	R            string         `json:"r"`
	PollInterval int            `json:"pollInterval"` // seconds, optional override
}

// InboxCount reports the inbox unread count. ok is false for client-only
// accounts, whose data response carries no inbox label.
func (u *UnreadResponse) InboxCount() (int, bool) {
	count, ok := u.UnreadCounts["inbox"]
	return count, ok
}

// DID is the subscriber's own number.
type DID struct {
	Formatted string `json:"formatted"`
	Number    string `json:"number"`
}

// Phone is one of the user's forwarding phones.
type Phone struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Type        int    `json:"type"`
}

// ContactPhone is a phone entry from the user's contacts, used for
// quick-dial autocomplete.
type ContactPhone struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phoneNumber"`
	DisplayNumber string `json:"displayNumber"`
	PhoneTypeName string `json:"phoneTypeName"`
}

// UserData is the subset of the user-data response the daemon caches.
type UserData struct {
	Number        *DID                     `json:"number"`
	Type          int                      `json:"type"`
	Phones        map[string]*Phone        `json:"phones"`
	ContactPhones map[string]*ContactPhone `json:"contactPhones"`
	R             string                   `json:"r"`
}

// IsLite reports whether the account lacks SMS capability.
func (u *UserData) IsLite() bool {
	return u.Type == AccountTypeLite
}

// Contact is a resolved contact from the inbox contact map.
type Contact struct {
	Name          string `json:"name"`
	DisplayNumber string `json:"displayNumber"`
	PhotoURL      string `json:"photoUrl"`
}

// Contacts maps phone numbers to contacts.
type Contacts struct {
	ContactPhoneMap map[string]*Contact `json:"contactPhoneMap"`
}

// MessageChild is a single SMS line or voicemail payload within a thread.
type MessageChild struct {
	Type        int    `json:"type"`
	Message     string `json:"message"`
	Duration    int    `json:"duration"` // seconds, voicemail/recording only
	PhoneNumber string `json:"phoneNumber"`

	// DurationText is the display form of Duration, filled server-side.
	DurationText string `json:"durationText,omitempty"`
}

// Message is one inbox thread.
type Message struct {
	ID            string         `json:"id"`
	Type          int            `json:"type"`
	IsRead        bool           `json:"isRead"`
	PhoneNumber   string         `json:"phoneNumber"`
	DisplayNumber string         `json:"displayNumber"`
	Children      []MessageChild `json:"children"`
}

// Newest returns the latest entry in the thread.
func (m *Message) Newest() *MessageChild {
	if len(m.Children) == 0 {
		return nil
	}
	return &m.Children[len(m.Children)-1]
}

// InboxResponse is the payload of the inbox listing endpoint.
type InboxResponse struct {
	MessageList []Message `json:"messageList"`
	Contacts    Contacts  `json:"contacts"`
}

// SenderName resolves the display name for a phone number: contact name,
// then display number, then "Unknown".
func (i *InboxResponse) SenderName(phoneNumber string) string {
	if contact := i.Contacts.ContactPhoneMap[phoneNumber]; contact != nil {
		if contact.Name != "" {
			return contact.Name
		}
		if contact.DisplayNumber != "" {
			return contact.DisplayNumber
		}
	}
	return "Unknown"
}

// actionResponse is the envelope of mutating endpoints.
type actionResponse struct {
	OK   bool `json:"ok"`
	Data struct {
		// Code arrives as either a number or a string depending on the
		// endpoint.
		Code json.Number `json:"code"`
	} `json:"data"`
}

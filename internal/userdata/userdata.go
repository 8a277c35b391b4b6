// Package userdata loads and caches the account profile: the user's own
// number, forwarding phones, contact directory, and the rotating session
// id used to detect account switches.
package userdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/voice"
)

// ErrNoData is returned when no cached profile exists.
var ErrNoData = errors.New("no cached user data")

// Fetcher is the slice of the API client the manager needs.
type Fetcher interface {
	FetchUserData(ctx context.Context) (*voice.UserData, error)
}

// Manager owns the cached profile and its refresh policy.
type Manager struct {
	client  Fetcher
	store   *store.Store
	log     *logging.Logger
	refresh time.Duration
}

// New creates a manager. refresh bounds the cache age before Ensure
// reloads.
func New(client Fetcher, st *store.Store, log *logging.Logger, refresh time.Duration) *Manager {
	return &Manager{
		client:  client,
		store:   st,
		log:     log,
		refresh: refresh,
	}
}

// Load fetches the profile and replaces the cache. A logged-out answer
// marks the store and drops the stale profile.
func (m *Manager) Load(ctx context.Context) (*voice.UserData, error) {
	data, err := m.client.FetchUserData(ctx)
	if err != nil {
		if errors.Is(err, voice.ErrLoggedOut) {
			m.store.Set(store.KeyLoggedOut, "1")
			m.store.Delete(store.KeyData)
		}
		return nil, err
	}

	if err := m.store.SetJSON(store.KeyData, data); err != nil {
		return nil, fmt.Errorf("cache user data: %w", err)
	}
	m.store.Set(store.KeyTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	m.store.Set(store.KeyLoggedOut, "")

	m.log.Info("user data loaded",
		zap.String("session", data.R),
		zap.Int("phones", len(data.Phones)),
		zap.Bool("lite", data.IsLite()))
	return data, nil
}

// Cached returns the stored profile without touching the network.
func (m *Manager) Cached() (*voice.UserData, error) {
	var data voice.UserData
	if err := m.store.GetJSON(store.KeyData, &data); err != nil {
		return nil, ErrNoData
	}
	return &data, nil
}

// Ensure returns the cached profile, reloading when the cache is absent
// or older than the refresh bound.
func (m *Manager) Ensure(ctx context.Context) (*voice.UserData, error) {
	data, err := m.Cached()
	if err == nil && !m.stale() {
		return data, nil
	}
	return m.Load(ctx)
}

// SessionChanged reports whether the session id from an unread poll no
// longer matches the cached profile. A change means the user switched
// accounts and everything derived from the old profile is invalid.
func (m *Manager) SessionChanged(r string) bool {
	data, err := m.Cached()
	if err != nil {
		return false
	}
	return r != "" && data.R != "" && r != data.R
}

// CanSMS reports whether the account may send texts.
func (m *Manager) CanSMS() bool {
	data, err := m.Cached()
	if err != nil {
		return false
	}
	return !data.IsLite()
}

// CallPhones returns the forwarding phones usable for click-to-call,
// ordered by id. The chat phone cannot receive the bridge leg.
func (m *Manager) CallPhones() []*voice.Phone {
	data, err := m.Cached()
	if err != nil {
		return nil
	}
	phones := make([]*voice.Phone, 0, len(data.Phones))
	for _, p := range data.Phones {
		if p.Type == voice.PhoneTypeGoogleTalk {
			continue
		}
		phones = append(phones, p)
	}
	sort.Slice(phones, func(i, j int) bool { return phones[i].ID < phones[j].ID })
	return phones
}

// Contacts returns the quick-dial directory from the cached profile.
func (m *Manager) Contacts() map[string]*voice.ContactPhone {
	data, err := m.Cached()
	if err != nil {
		return nil
	}
	return data.ContactPhones
}

func (m *Manager) stale() bool {
	ts := m.store.Get(store.KeyTimestamp)
	if ts == "" {
		return true
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return true
	}
	return time.Since(time.Unix(sec, 0)) > m.refresh
}

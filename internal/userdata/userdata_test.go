package userdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/voice"
)

type fakeFetcher struct {
	data  *voice.UserData
	err   error
	calls int
}

func (f *fakeFetcher) FetchUserData(ctx context.Context) (*voice.UserData, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newManager(t *testing.T, f *fakeFetcher) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)
	return New(f, st, logging.NewDefault(), 30*time.Minute), st
}

func profile() *voice.UserData {
	return &voice.UserData{
		Number: &voice.DID{Formatted: "(650) 555-0100"},
		Type:   1,
		Phones: map[string]*voice.Phone{
			"2": {ID: 2, Name: "Work", PhoneNumber: "+16505550101", Type: 1},
			"1": {ID: 1, Name: "Mobile", PhoneNumber: "+14085550199", Type: 2},
			"3": {ID: 3, Name: "Chat", Type: voice.PhoneTypeGoogleTalk},
		},
		ContactPhones: map[string]*voice.ContactPhone{
			"+14085550150": {Name: "Ada", PhoneNumber: "+14085550150"},
		},
		R: "session-a",
	}
}

func TestLoadCachesProfile(t *testing.T) {
	m, st := newManager(t, &fakeFetcher{data: profile()})

	data, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-a", data.R)
	assert.True(t, st.IsSet(store.KeyData))
	assert.True(t, st.IsSet(store.KeyTimestamp))
	assert.False(t, st.IsSet(store.KeyLoggedOut))

	cached, err := m.Cached()
	require.NoError(t, err)
	assert.Equal(t, "(650) 555-0100", cached.Number.Formatted)
}

func TestLoadLoggedOutClearsCache(t *testing.T) {
	m, st := newManager(t, &fakeFetcher{data: profile()})
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	m.client = &fakeFetcher{err: voice.ErrLoggedOut}
	_, err = m.Load(context.Background())
	assert.ErrorIs(t, err, voice.ErrLoggedOut)
	assert.True(t, st.IsSet(store.KeyLoggedOut))
	assert.False(t, st.IsSet(store.KeyData))

	_, err = m.Cached()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEnsureUsesFreshCache(t *testing.T) {
	f := &fakeFetcher{data: profile()}
	m, _ := newManager(t, f)

	_, err := m.Ensure(context.Background())
	require.NoError(t, err)
	_, err = m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestSessionChanged(t *testing.T) {
	m, _ := newManager(t, &fakeFetcher{data: profile()})

	// No cache yet: nothing to compare against.
	assert.False(t, m.SessionChanged("session-b"))

	_, err := m.Load(context.Background())
	require.NoError(t, err)

	assert.False(t, m.SessionChanged("session-a"))
	assert.False(t, m.SessionChanged(""))
	assert.True(t, m.SessionChanged("session-b"))
}

func TestCallPhonesExcludesChatAndSorts(t *testing.T) {
	m, _ := newManager(t, &fakeFetcher{data: profile()})
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	phones := m.CallPhones()
	require.Len(t, phones, 2)
	assert.Equal(t, "Mobile", phones[0].Name)
	assert.Equal(t, "Work", phones[1].Name)
}

func TestCanSMS(t *testing.T) {
	lite := profile()
	lite.Type = voice.AccountTypeLite
	m, _ := newManager(t, &fakeFetcher{data: lite})

	// No cache yet.
	assert.False(t, m.CanSMS())

	_, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, m.CanSMS())

	m.client = &fakeFetcher{data: profile()}
	_, err = m.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, m.CanSMS())
}

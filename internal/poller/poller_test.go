package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/voice"
)

type fakeClient struct {
	unread     *voice.UnreadResponse
	unreadErr  error
	inbox      *voice.InboxResponse
	inboxCalls int
}

func (f *fakeClient) FetchUnread(ctx context.Context) (*voice.UnreadResponse, error) {
	if f.unreadErr != nil {
		return nil, f.unreadErr
	}
	return f.unread, nil
}

func (f *fakeClient) FetchInbox(ctx context.Context) (*voice.InboxResponse, error) {
	f.inboxCalls++
	if f.inbox == nil {
		return &voice.InboxResponse{}, nil
	}
	return f.inbox, nil
}

type fakeProfile struct {
	changed bool
	loads   int
}

func (f *fakeProfile) SessionChanged(r string) bool { return f.changed }

func (f *fakeProfile) Load(ctx context.Context) (*voice.UserData, error) {
	f.loads++
	f.changed = false
	return &voice.UserData{R: "reloaded"}, nil
}

type fakeBadge struct {
	text   string
	grayed bool
	sets   int
}

func (f *fakeBadge) SetBadge(text string, grayed bool) {
	f.text, f.grayed = text, grayed
	f.sets++
}

type fakeSink struct {
	titles []string
	bodies []string
	alerts int
}

func (f *fakeSink) Notify(title, body string) {
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, body)
}

func (f *fakeSink) PlayAlert() { f.alerts++ }

func pollConfig() config.PollConfig {
	return config.PollConfig{
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
	}
}

func unread(count int, r string) *voice.UnreadResponse {
	return &voice.UnreadResponse{
		UnreadCounts: map[string]int{"inbox": count},
		R:            r,
	}
}

func newTestPoller(t *testing.T, client *fakeClient) (*Poller, *store.Store, *fakeBadge, *fakeSink) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)
	log := logging.NewDefault()
	badge := &fakeBadge{}
	sink := &fakeSink{}
	p := New(client, &fakeProfile{}, st, pollConfig(), log).
		WithBadge(badge).
		WithNotifier(NewNotifier(st, sink, log))
	return p, st, badge, sink
}

func TestBadgeText(t *testing.T) {
	cases := []struct {
		count  int
		text   string
		grayed bool
	}{
		{CountUnknown, "", false},
		{CountLoggedOut, "?", true},
		{0, "", false},
		{3, "3", false},
		{99, "99", false},
		{100, "99+", false},
		{140, "99+", false},
	}
	for _, tc := range cases {
		text, grayed := BadgeText(tc.count)
		assert.Equal(t, tc.text, text, "count %d", tc.count)
		assert.Equal(t, tc.grayed, grayed, "count %d", tc.count)
	}
}

func TestIntervalBacksOffAndClamps(t *testing.T) {
	p, _, _, _ := newTestPoller(t, &fakeClient{})

	assert.Equal(t, time.Minute, p.Interval())

	expected := []time.Duration{
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		32 * time.Minute,
		time.Hour,
		time.Hour,
	}
	for i, want := range expected {
		p.fail(errors.New("down"))
		assert.Equal(t, want, p.Interval(), "after %d failures", i+1)
	}

	p.Reset()
	assert.Equal(t, time.Minute, p.Interval())
}

func TestIntervalHonorsStoredOverride(t *testing.T) {
	p, st, _, _ := newTestPoller(t, &fakeClient{})
	st.Set(store.KeyPollInterval, "120")
	assert.Equal(t, 2*time.Minute, p.Interval())

	// The override never drops below the floor.
	st.Set(store.KeyPollInterval, "5")
	assert.Equal(t, time.Minute, p.Interval())
}

func TestPollStoresCountAndBadge(t *testing.T) {
	client := &fakeClient{unread: unread(3, "s1")}
	p, st, badge, sink := newTestPoller(t, client)

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 3, st.GetInt(store.KeyUnreadCount, CountUnknown))
	assert.Equal(t, "3", badge.text)
	assert.False(t, badge.grayed)

	// The first observation is not an increase.
	assert.Empty(t, sink.titles)
	assert.Zero(t, sink.alerts)
}

func TestPollAnnouncesIncreaseOnly(t *testing.T) {
	client := &fakeClient{
		unread: unread(3, "s1"),
		inbox: &voice.InboxResponse{
			MessageList: []voice.Message{{
				ID:            "t1",
				Type:          voice.MessageTypeSMSIn,
				PhoneNumber:   "+14085550199",
				DisplayNumber: "(408) 555-0199",
				Children: []voice.MessageChild{
					{Type: voice.MessageTypeSMSIn, Message: "older"},
					{Type: voice.MessageTypeSMSIn, Message: "lunch?"},
				},
			}},
		},
	}
	p, _, _, sink := newTestPoller(t, client)
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx))

	// Same count: silent.
	require.NoError(t, p.Poll(ctx))
	assert.Empty(t, sink.titles)

	// Count rises: one notification for the newest entry.
	client.unread = unread(7, "s1")
	require.NoError(t, p.Poll(ctx))
	require.Len(t, sink.titles, 1)
	assert.Equal(t, "(408) 555-0199", sink.titles[0])
	assert.Equal(t, "SMS: lunch?", sink.bodies[0])
	assert.Equal(t, 1, sink.alerts)

	// Drop back down: silent again.
	client.unread = unread(2, "s1")
	require.NoError(t, p.Poll(ctx))
	assert.Len(t, sink.titles, 1)
}

func TestPollLoggedOut(t *testing.T) {
	client := &fakeClient{unreadErr: voice.ErrLoggedOut}
	p, st, badge, _ := newTestPoller(t, client)

	err := p.Poll(context.Background())
	assert.ErrorIs(t, err, voice.ErrLoggedOut)
	assert.True(t, st.IsSet(store.KeyLoggedOut))
	assert.Equal(t, CountLoggedOut, st.GetInt(store.KeyUnreadCount, CountUnknown))
	assert.Equal(t, "?", badge.text)
	assert.True(t, badge.grayed)

	// Recovery clears the state and stays quiet on the first count.
	client.unreadErr = nil
	client.unread = unread(5, "s1")
	require.NoError(t, p.Poll(context.Background()))
	assert.False(t, st.IsSet(store.KeyLoggedOut))
	assert.Equal(t, "5", badge.text)
	assert.False(t, badge.grayed)
}

func TestPollClientOnlySuspends(t *testing.T) {
	client := &fakeClient{unread: &voice.UnreadResponse{
		UnreadCounts: map[string]int{"sms": 1},
		R:            "s1",
	}}
	p, st, badge, _ := newTestPoller(t, client)
	st.Set(store.KeyData, `{"r":"s1"}`)

	require.NoError(t, p.Poll(context.Background()))
	assert.True(t, st.IsSet(store.KeyIsClient))
	assert.Equal(t, "0", st.Get(store.KeyUnreadCount))
	assert.False(t, st.IsSet(store.KeyData))
	assert.Equal(t, "", badge.text)
}

func TestPollSessionChangeReloadsProfile(t *testing.T) {
	client := &fakeClient{unread: unread(0, "s2")}
	p, _, _, _ := newTestPoller(t, client)
	profile := &fakeProfile{changed: true}
	p.profile = profile

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, profile.loads)

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, profile.loads)
}

func TestPollStoresIntervalOverride(t *testing.T) {
	client := &fakeClient{unread: &voice.UnreadResponse{
		UnreadCounts: map[string]int{"inbox": 0},
		R:            "s1",
		PollInterval: 300,
	}}
	p, _, _, _ := newTestPoller(t, client)

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 5*time.Minute, p.Interval())
}

func TestPollFailureBackoffResetsOnSuccess(t *testing.T) {
	client := &fakeClient{unreadErr: errors.New("unreachable")}
	p, _, _, _ := newTestPoller(t, client)
	ctx := context.Background()

	require.Error(t, p.Poll(ctx))
	require.Error(t, p.Poll(ctx))
	assert.Equal(t, 4*time.Minute, p.Interval())

	client.unreadErr = nil
	client.unread = unread(0, "s1")
	require.NoError(t, p.Poll(ctx))
	assert.Equal(t, time.Minute, p.Interval())
}

func TestPollMalformedCountsIsFailure(t *testing.T) {
	client := &fakeClient{unread: &voice.UnreadResponse{R: "s1"}}
	p, st, _, _ := newTestPoller(t, client)
	st.Set(store.KeyUnreadCount, "3")

	require.Error(t, p.Poll(context.Background()))
	assert.Equal(t, 2*time.Minute, p.Interval())
	// The displayed count is untouched.
	assert.Equal(t, "3", st.Get(store.KeyUnreadCount))
	assert.False(t, st.IsSet(store.KeyIsClient))
}

func TestRunHonorsCancel(t *testing.T) {
	client := &fakeClient{unread: unread(0, "s1")}
	p, _, _, _ := newTestPoller(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollNowWakesClientOnlyWait(t *testing.T) {
	client := &fakeClient{unread: unread(1, "s1")}
	p, st, _, _ := newTestPoller(t, client)
	st.Set(store.KeyIsClient, "1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// The wake poke re-checks the flag; once cleared the cycle runs.
	st.Set(store.KeyIsClient, "")
	p.PollNow()

	assert.Eventually(t, func() bool {
		return st.GetInt(store.KeyUnreadCount, CountUnknown) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestEase(t *testing.T) {
	assert.InDelta(t, 0, ease(0), 1e-9)
	assert.InDelta(t, 0.5, ease(0.5), 1e-9)
	assert.InDelta(t, 1, ease(1), 1e-9)
	assert.Less(t, ease(0.1), 0.1)
	assert.Greater(t, ease(0.9), 0.9)
}

func TestIntervalOverrideSurvivesBadValue(t *testing.T) {
	p, st, _, _ := newTestPoller(t, &fakeClient{})
	st.Set(store.KeyPollInterval, "not-a-number")
	assert.Equal(t, time.Minute, p.Interval())
}

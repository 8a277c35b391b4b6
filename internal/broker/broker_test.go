package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/userdata"
	"github.com/voicelink/voicelink/internal/voice"
)

type fakeCaller struct {
	cancels int
	err     error
}

func (f *fakeCaller) CancelCall(ctx context.Context) error {
	f.cancels++
	return f.err
}

type fakeProfileFetcher struct{ data *voice.UserData }

func (f *fakeProfileFetcher) FetchUserData(ctx context.Context) (*voice.UserData, error) {
	return f.data, nil
}

func newTestBroker(t *testing.T) (*Broker, *store.Store, *fakeCaller) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)
	log := logging.NewDefault()

	fetcher := &fakeProfileFetcher{data: &voice.UserData{
		Phones: map[string]*voice.Phone{
			"1": {ID: 1, Name: "Mobile", PhoneNumber: "+14085550199", Type: 2},
		},
		R: "session-a",
	}}
	profile := userdata.New(fetcher, st, log, time.Hour)
	_, err = profile.Load(context.Background())
	require.NoError(t, err)

	caller := &fakeCaller{}
	return New(st, profile, caller, log), st, caller
}

func dialBroker(t *testing.T, b *Broker) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", b.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Drain the welcome message.
	var welcome Response
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "connected", welcome.Action)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestLinksActionReflectsOptOuts(t *testing.T) {
	b, st, _ := newTestBroker(t)
	conn := dialBroker(t, b)

	resp := roundTrip(t, conn, Request{ID: "1", Action: ActionLinks})
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, true, resp.Data["links"])
	assert.Equal(t, true, resp.Data["select"])
	assert.Equal(t, false, resp.Data["loggedOut"])

	st.Set(store.KeyLinksOff, "1")
	resp = roundTrip(t, conn, Request{ID: "2", Action: ActionLinks})
	assert.Equal(t, false, resp.Data["links"])
	assert.Equal(t, true, resp.Data["select"])

	st.Set(store.KeyLoggedOut, "1")
	resp = roundTrip(t, conn, Request{ID: "3", Action: ActionLinks})
	assert.Equal(t, true, resp.Data["loggedOut"])
}

func TestLinksSuppressedOnVoiceSite(t *testing.T) {
	b, _, _ := newTestBroker(t)
	b.WithSiteURL("https://voice.example.com")
	conn := dialBroker(t, b)

	resp := roundTrip(t, conn, Request{Action: ActionLinks, Params: map[string]any{
		"url": "https://voice.example.com/u/0/messages",
	}})
	assert.Equal(t, false, resp.Data["links"])
	assert.Equal(t, false, resp.Data["select"])

	resp = roundTrip(t, conn, Request{Action: ActionLinks, Params: map[string]any{
		"url": "https://example.org/contact",
	}})
	assert.Equal(t, true, resp.Data["links"])
}

func TestPhonesAction(t *testing.T) {
	b, _, _ := newTestBroker(t)
	conn := dialBroker(t, b)

	resp := roundTrip(t, conn, Request{Action: ActionPhones})
	assert.Equal(t, ActionPhones, resp.Action)
	assert.Equal(t, true, resp.Data["sms"])
	assert.Equal(t, false, resp.Data["loggedOut"])
	assert.Equal(t, "session-a", resp.Data["r"])

	phones, ok := resp.Data["phones"].([]any)
	require.True(t, ok)
	require.Len(t, phones, 1)
}

func TestCancelAction(t *testing.T) {
	b, _, caller := newTestBroker(t)
	conn := dialBroker(t, b)

	resp := roundTrip(t, conn, Request{ID: "c1", Action: ActionCancel})
	assert.Empty(t, resp.Error)
	assert.Equal(t, 1, caller.cancels)

	caller.err = errors.New("bridge gone")
	resp = roundTrip(t, conn, Request{ID: "c2", Action: ActionCancel})
	assert.Equal(t, "bridge gone", resp.Error)
}

func TestUnknownActionGetsEmptyResponse(t *testing.T) {
	b, _, _ := newTestBroker(t)
	conn := dialBroker(t, b)

	resp := roundTrip(t, conn, Request{ID: "9", Action: "mystery"})
	assert.Equal(t, "9", resp.ID)
	assert.Empty(t, resp.Data)
	assert.Empty(t, resp.Error)
}

func TestWidgetEventsRelayToOtherConnections(t *testing.T) {
	b, _, _ := newTestBroker(t)
	sender := dialBroker(t, b)
	receiver := dialBroker(t, b)

	require.NoError(t, sender.WriteJSON(Request{
		ID:     "w1",
		Action: ActionResizeWidget,
		Params: map[string]any{"height": float64(240)},
	}))

	// The sender gets an ack, the receiver gets the event.
	var ack Response
	require.NoError(t, sender.ReadJSON(&ack))
	assert.Equal(t, "w1", ack.ID)

	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Response
	require.NoError(t, receiver.ReadJSON(&event))
	assert.Equal(t, ActionResizeWidget, event.Action)
	assert.Equal(t, float64(240), event.Data["height"])
}

func TestConnectionCount(t *testing.T) {
	b, _, _ := newTestBroker(t)
	assert.Equal(t, 0, b.ConnectionCount())

	conn := dialBroker(t, b)
	assert.Eventually(t, func() bool { return b.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return b.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	b, _, _ := newTestBroker(t)
	a := dialBroker(t, b)
	c := dialBroker(t, b)

	b.Broadcast("badge", map[string]any{"text": "3"})

	for _, conn := range []*websocket.Conn{a, c} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event Response
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "badge", event.Action)
		assert.Equal(t, "3", event.Data["text"])
	}
}

func TestBroadcastFrame(t *testing.T) {
	b, _, _ := newTestBroker(t)
	conn := dialBroker(t, b)

	icon := image.NewRGBA(image.Rect(0, 0, 4, 4))
	icon.SetRGBA(1, 1, color.RGBA{R: 0xff, A: 0xff})
	b.BroadcastFrame(icon, 7)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Response
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "frame", event.Action)
	assert.Equal(t, float64(7), event.Data["index"])

	inline, ok := event.Data["image"].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(inline, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(inline, "data:image/png;base64,"))
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, icon.Bounds(), decoded.Bounds())
}

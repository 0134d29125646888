package agent

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/hray3182/habitline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]webpush.Subscription
}

func newMemorySubscriptions(subs ...webpush.Subscription) *memorySubscriptions {
	m := &memorySubscriptions{subs: make(map[string]webpush.Subscription)}
	for _, s := range subs {
		m.subs[s.Endpoint] = s
	}
	return m
}

func (m *memorySubscriptions) List(context.Context) ([]webpush.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webpush.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *memorySubscriptions) Remove(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpoint)
	return nil
}

func (m *memorySubscriptions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func testSubscription(t *testing.T, endpoint string) webpush.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func testPushConfig(t *testing.T) PushConfig {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return PushConfig{
		Subscriber:      "reminders@habitline.test",
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		TTL:             30,
	}
}

func TestWebPushDelivers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := newMemorySubscriptions(testSubscription(t, srv.URL+"/push/a"))
	push := NewWebPush(subs, testPushConfig(t), nil)

	payload, err := encodePush("Drink water", models.NotificationOptions{Tag: "r-1"})
	require.NoError(t, err)
	require.NoError(t, push.Push(context.Background(), payload))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWebPushRemovesGoneSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/push/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := newMemorySubscriptions(
		testSubscription(t, srv.URL+"/push/gone"),
		testSubscription(t, srv.URL+"/push/live"),
	)
	push := NewWebPush(subs, testPushConfig(t), nil)

	require.NoError(t, push.Push(context.Background(), []byte(`{"title":"x"}`)))
	assert.Equal(t, 1, subs.count())
}

func TestWebPushFailsWithoutDelivery(t *testing.T) {
	push := NewWebPush(newMemorySubscriptions(), testPushConfig(t), nil)
	err := push.Push(context.Background(), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrNoSubscriptions))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	push = NewWebPush(newMemorySubscriptions(testSubscription(t, srv.URL)), testPushConfig(t), nil)
	assert.Error(t, push.Push(context.Background(), []byte(`{}`)))
}

func TestEncodePushFlattensOptions(t *testing.T) {
	payload, err := encodePush("Stretch", models.NotificationOptions{
		Body: "Five minutes",
		Tag:  "r-2",
		Data: models.NotificationData{URL: "/habits/2"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "Stretch", decoded["title"])
	assert.Equal(t, "Five minutes", decoded["body"])
	assert.Equal(t, "r-2", decoded["tag"])
	assert.Equal(t, "/habits/2", decoded["data"].(map[string]any)["url"])
}

func TestPostRejectsMalformedMessages(t *testing.T) {
	a := New(nil, "test", nil, nil)
	ctx := context.Background()

	assert.Error(t, a.Post(ctx, Message{Type: "PING"}))
	assert.Error(t, a.Post(ctx, Message{Type: MessageCancel}))
	assert.Error(t, a.Post(ctx, Message{Type: MessageSchedule, Title: "no tag"}))
}

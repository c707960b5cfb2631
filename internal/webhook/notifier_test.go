package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_SignsAndDelivers(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2 * time.Second)
	n.Notify(context.Background(), srv.URL, "secret123", Event{Tid: "tid-1", Status: StatusAcknowledged})

	select {
	case r := <-received:
		body := <-bodies

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var event Event
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, "tid-1", event.Tid)
		assert.Equal(t, StatusAcknowledged, event.Status)

		sig := r.Header.Get("X-Signature")
		require.NotEmpty(t, sig, "X-Signature must be set when a secret is configured")
		assert.True(t, hmac.Equal([]byte(sig), []byte(Sign("secret123", body))),
			"signature must be HMAC-SHA256 of the body")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotify_NoSecretNoSignature(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Signature")
	}))
	defer srv.Close()

	n := NewHTTPNotifier(2 * time.Second)
	n.Notify(context.Background(), srv.URL, "", Event{Tid: "tid-2", Status: StatusVerified})

	select {
	case sig := <-received:
		assert.Empty(t, sig, "no secret means no signature header")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotify_EmptyURLIsNoop(t *testing.T) {
	n := NewHTTPNotifier(time.Second)
	// Must not panic or block.
	n.Notify(context.Background(), "", "secret", Event{Tid: "tid-3", Status: StatusFailed})
}

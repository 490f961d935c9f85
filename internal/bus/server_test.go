package bus

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remails-com/remails/internal/model"
)

func newTestServer(t *testing.T) (*httptest.Server, *Broadcaster) {
	t.Helper()
	broadcaster := NewBroadcaster(discardLogger())
	server := NewServer(broadcaster, []string{"*"}, discardLogger())
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, broadcaster
}

func TestServer_Post_BroadcastsToListeners(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/listen"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the server a moment to register the listener
	time.Sleep(50 * time.Millisecond)

	event := model.NewEmailReadyToSend(uuid.New(), nil)
	body, err := json.Marshal(event)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/post", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), event.MessageID.String())
}

func TestServer_Post_RejectsInvalidEvent(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/post", "application/json", strings.NewReader(`{"type":"NotARealType"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Post_RejectsGarbageBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/post", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClient_SendAndReceive(t *testing.T) {
	ts, _ := newTestServer(t)
	host, port := splitHostPort(t, ts.URL)

	client := NewClient(host, port, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	event := model.NewEmailReadyToSend(uuid.New(), nil)
	require.NoError(t, client.Send(context.Background(), event))

	select {
	case received := <-stream:
		assert.Equal(t, event.MessageID, received.MessageID)
		assert.Equal(t, event.Type, received.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port
}

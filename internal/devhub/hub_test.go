package devhub

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bus", hub.ServeBus)
	mux.HandleFunc("/api/realtime", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			hub.HandleSubscriptions(w, r)
			return
		}
		hub.ServeStream(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialBus(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/bus"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestBusSubscribePublishFanOut(t *testing.T) {
	hub := New()
	srv := newHubServer(t, hub)

	sub := dialBus(t, srv, nil)
	writeEnvelope(t, sub, envelope{Type: typeSubscribe, Topic: "chat", RequestID: "r1"})
	ack := readEnvelope(t, sub)
	assert.Equal(t, typeSubscribed, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)

	pub := dialBus(t, srv, nil)
	writeEnvelope(t, pub, envelope{Type: typePublish, Topic: "chat", Data: json.RawMessage(`{"text":"hi"}`), RequestID: "r2"})

	pubAck := readEnvelope(t, pub)
	assert.Equal(t, typePublished, pubAck.Type)
	assert.Equal(t, "r2", pubAck.RequestID)
	assert.NotEmpty(t, pubAck.ID)
	assert.NotEmpty(t, pubAck.Created)

	msg := readEnvelope(t, sub)
	assert.Equal(t, typeMessage, msg.Type)
	assert.Equal(t, "chat", msg.Topic)
	assert.Equal(t, pubAck.ID, msg.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(msg.Data))
}

func TestBusPublishRequiresToken(t *testing.T) {
	hub := New(WithPublishToken("tok"))
	srv := newHubServer(t, hub)

	anon := dialBus(t, srv, nil)
	writeEnvelope(t, anon, envelope{Type: typePublish, Topic: "chat", RequestID: "r1", Data: json.RawMessage(`{}`)})
	reply := readEnvelope(t, anon)
	assert.Equal(t, typeError, reply.Type)
	assert.Equal(t, "r1", reply.RequestID)

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	authed := dialBus(t, srv, header)
	writeEnvelope(t, authed, envelope{Type: typePublish, Topic: "chat", RequestID: "r2", Data: json.RawMessage(`{}`)})
	reply = readEnvelope(t, authed)
	assert.Equal(t, typePublished, reply.Type)
}

func TestBusRejectsOverlongTopic(t *testing.T) {
	hub := New()
	srv := newHubServer(t, hub)

	conn := dialBus(t, srv, nil)
	writeEnvelope(t, conn, envelope{Type: typeSubscribe, Topic: strings.Repeat("x", 300), RequestID: "r1"})
	reply := readEnvelope(t, conn)
	assert.Equal(t, typeError, reply.Type)
	assert.Contains(t, reply.Message, "topic too long")
}

func TestStreamHandshakeAndBroadcast(t *testing.T) {
	hub := New()
	srv := newHubServer(t, hub)

	resp, err := srv.Client().Get(srv.URL + "/api/realtime")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	readFrame := func() map[string]string {
		fields := make(map[string]string)
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return fields
			}
			if i := strings.Index(line, ":"); i > 0 {
				fields[line[:i]] = strings.TrimLeft(line[i+1:], " ")
			}
		}
	}

	handshake := readFrame()
	assert.Equal(t, connectEventName, handshake["event"])

	var payload struct {
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal([]byte(handshake["data"]), &payload))
	require.NotEmpty(t, payload.ClientID)

	// Submit the desired subscription set, then broadcast to it.
	body, _ := json.Marshal(map[string]any{
		"clientId":      payload.ClientID,
		"subscriptions": []string{"posts/1"},
	})
	post, err := srv.Client().Post(srv.URL+"/api/realtime", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusNoContent, post.StatusCode)

	hub.Broadcast("posts/1", map[string]string{"action": "update"})

	frame := readFrame()
	assert.Equal(t, "posts/1", frame["event"])
	assert.JSONEq(t, `{"action":"update"}`, frame["data"])
}

func TestSubscriptionsEndpointRejectsUnknownClient(t *testing.T) {
	hub := New()
	srv := newHubServer(t, hub)

	body := `{"clientId":"nope","subscriptions":["a"]}`
	resp, err := srv.Client().Post(srv.URL+"/api/realtime", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

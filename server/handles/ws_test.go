package handles_test

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/pkg/utils"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := strings.Replace(env.srv.URL, "http://", "ws://", 1) + "/api/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendAction(t *testing.T, ws *websocket.Conn, action, taskID string) {
	t.Helper()
	data, err := utils.Json.Marshal(model.ClientMessage{Action: action, TaskID: taskID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, ws *websocket.Conn) model.ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg model.ServerMessage
	require.NoError(t, utils.Json.Unmarshal(data, &msg))
	return msg
}

func TestWSSubscribeDeliversSnapshotThenUpdates(t *testing.T) {
	env := newTestEnv(t)
	created := env.registry.Create("demo")
	ws := dialWS(t, env)

	sendAction(t, ws, model.ActionSubscribeTask, created.ID)
	msg := readEvent(t, ws)
	assert.Equal(t, model.EventTaskSubscribed, msg.Event)
	assert.Equal(t, created.ID, msg.TaskID)
	assert.Equal(t, model.StatusPending, msg.Status)

	_, err := env.registry.Transition(created.ID, model.StatusDownloading)
	require.NoError(t, err)
	msg = readEvent(t, ws)
	assert.Equal(t, model.EventTaskStatusChanged, msg.Event)
	assert.Equal(t, model.StatusDownloading, msg.Status)

	_, err = env.registry.UpdateProgress(created.ID, model.ProgressSnapshot{TotalFiles: 2, TotalSize: 4000})
	require.NoError(t, err)
	msg = readEvent(t, ws)
	assert.Equal(t, model.EventTaskProgress, msg.Event)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, int64(4000), msg.Progress.TotalSize)
}

func TestWSSubscribeUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env)
	sendAction(t, ws, model.ActionSubscribeTask, "missing")
	msg := readEvent(t, ws)
	assert.Equal(t, model.EventSubscribeError, msg.Event)
	assert.NotEmpty(t, msg.Error)
}

func TestWSTerminalEvent(t *testing.T) {
	env := newTestEnv(t)
	created := env.registry.Create("demo")
	ws := dialWS(t, env)
	sendAction(t, ws, model.ActionSubscribeTask, created.ID)
	readEvent(t, ws) // initial snapshot

	_, err := env.registry.Transition(created.ID, model.StatusCancelled)
	require.NoError(t, err)
	msg := readEvent(t, ws)
	assert.Equal(t, model.EventTaskCancelled, msg.Event)
	require.NotNil(t, msg.CompletedAt)
}

func TestWSUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	created := env.registry.Create("demo")
	ws := dialWS(t, env)
	sendAction(t, ws, model.ActionSubscribeTask, created.ID)
	readEvent(t, ws)

	sendAction(t, ws, model.ActionUnsubscribeTask, created.ID)
	// Unsubscribe carries no reply; poll until the server side has dropped it.
	require.Eventually(t, func() bool {
		return env.mux.SubscriberCount(created.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := env.registry.Transition(created.ID, model.StatusDownloading)
	require.NoError(t, err)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "no event expected after unsubscribe")
}

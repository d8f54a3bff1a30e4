package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"

	"taskplanner/handlers"
	"taskplanner/models"
	"taskplanner/services"
	"taskplanner/store"
	"taskplanner/utilities"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	utilities.SetOutput(io.Discard)

	s := store.NewMemoryTaskStore()
	svc := services.NewTaskService(zerolog.New(io.Discard), s, time.Second)
	srv := httptest.NewServer(newRouter(handlers.NewTaskHandler(svc, []string{"*"}), "memory", []string{"*"}))
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return srv
}

func createTask(t *testing.T, srv *httptest.Server, body string) models.Task {
	t.Helper()
	resp, err := http.Post(srv.URL+"/task/create", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var task models.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	return task
}

func readFrame(t *testing.T, conn *websocket.Conn) handlers.StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg handlers.StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRouter_RoutesAndMethods(t *testing.T) {
	srv := newTestServer(t)
	task := createTask(t, srv, `{"title":"Buy milk","deadline":"05/03/2024"}`)

	testCases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/task/list", "", http.StatusOK},
		{http.MethodGet, "/task/info/" + task.ID, "", http.StatusOK},
		{http.MethodPatch, "/task/update/" + task.ID, `{"completed":true}`, http.StatusOK},
		{http.MethodPut, "/task/update/" + task.ID, `{"title":"Buy milk","deadline":"05/03/2024"}`, http.StatusNoContent},
		{http.MethodPut, "/task/complete/" + task.ID, `{"completed":true}`, http.StatusOK},
		{http.MethodPost, "/task/list", "", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/task/delete/" + task.ID, "", http.StatusNoContent},
		{http.MethodGet, "/task/info/" + task.ID, "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_CORS(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/task/list", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Assert(t, resp.Header.Get("Access-Control-Allow-Origin") != "")
}

func TestTaskStream(t *testing.T) {
	srv := newTestServer(t)
	first := createTask(t, srv, `{"title":"Water plants","deadline":"10/03/2024"}`)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/task/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readFrame(t, conn)
	assert.Equal(t, "snapshot", initial.Type)
	require.Len(t, initial.Tasks, 1)
	assert.Equal(t, first.ID, initial.Tasks[0].ID)

	second := createTask(t, srv, `{"title":"Buy milk","deadline":"05/03/2024"}`)

	// Frames carry the whole list in display order; wait for the one that
	// includes the second task.
	for {
		msg := readFrame(t, conn)
		assert.Equal(t, "snapshot", msg.Type)
		if len(msg.Tasks) == 2 {
			assert.Equal(t, second.ID, msg.Tasks[0].ID)
			assert.Equal(t, first.ID, msg.Tasks[1].ID)
			break
		}
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/delete/"+second.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	for {
		msg := readFrame(t, conn)
		if len(msg.Tasks) == 1 {
			assert.Equal(t, first.ID, msg.Tasks[0].ID)
			break
		}
	}
}

func TestTaskStream_EmptyStoreSendsEmptyList(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/task/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Assert(t, strings.Contains(string(raw), `"tasks":[]`), string(raw))

	task := createTask(t, srv, `{"title":"Buy milk","deadline":"05/03/2024"}`)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/delete/"+task.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	// The frame after the last task goes away still names the list.
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err = conn.ReadMessage()
		require.NoError(t, err)
		if !strings.Contains(string(raw), task.ID) {
			assert.Assert(t, strings.Contains(string(raw), `"tasks":[]`), string(raw))
			break
		}
	}
}

package interview

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketInterview(t *testing.T) {
	c := (&survey.Catalog{QuestionList: levels(8, 9), Rules: []survey.ConflictRule{}}).Index()
	engine := NewEngine(Deps{
		Reference:   c,
		Responses:   store.NewMemoryStore(),
		Interpreter: &fakeInterpreter{},
	}, nil)

	r := chi.NewRouter()
	r.Get("/ws/interviews/{userID}", NewWSHandler(engine, "", nil).ServeHTTP)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interviews/11"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	assert.Equal(t, "Начинаю опрос! (Сессия #1)", read().Text)
	first := read()
	require.NotNil(t, first.Prompt)
	assert.Equal(t, 8, first.Prompt.QuestionID)
	assert.Len(t, first.Prompt.Choices, 3)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "teleport"}))
	assert.Contains(t, read().Text, "unknown command")

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "2"}))
	second := read()
	require.NotNil(t, second.Prompt)
	assert.Equal(t, 9, second.Prompt.QuestionID)

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "1"}))
	assert.Equal(t, msgCompleted, read().Text)
	assert.Contains(t, read().Text, "Грейд не рассчитан")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

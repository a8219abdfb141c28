package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(svc))
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_GetMessages(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodGet, "/finbot/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, GreetingText, resp.Messages[0].Content)
}

func TestHandler_Submit(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodPost, "/finbot/messages", `{"text":"tell me about fraud"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Turn)
	assert.Equal(t, "tell me about fraud", resp.Turn.UserMessage.Content)
	require.Len(t, resp.Messages, 3)
	assert.Contains(t, resp.Messages[2].Content, "Phishing & Fraud Protection")
}

func TestHandler_SubmitEmptyIsNoContent(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodPost, "/finbot/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, svc.Snapshot(), 1)
}

func TestHandler_SubmitInvalidJSON(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodPost, "/finbot/messages", `{text`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SubmitWhileBusyConflicts(t *testing.T) {
	seq := newBlockingSeq("x")
	svc, _, _ := newTestService(t, &fakeCapability{streamReply: seq}, up)
	h := newTestRouter(t, svc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Submit(context.Background(), "first")
	}()
	<-seq.started

	rec := do(t, h, http.MethodPost, "/finbot/messages", `{"text":"second"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(seq.release)
	<-done
}

func TestHandler_ClearNeedsConfirmation(t *testing.T) {
	svc, _, slot := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	_, err := svc.Submit(context.Background(), "q")
	require.NoError(t, err)

	rec := do(t, h, http.MethodDelete, "/finbot/messages", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, svc.Snapshot(), 3)

	rec = do(t, h, http.MethodDelete, "/finbot/messages?confirm=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.Snapshot(), 1)
	assert.Empty(t, slot.Bytes())
}

func TestHandler_InputQuickAndSend(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodGet, "/finbot/quick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quick struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quick))
	assert.Equal(t, QuickQuestions[:], quick.Questions)

	rec = do(t, h, http.MethodPost, "/finbot/quick/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, QuickQuestions[2], svc.Input())

	rec = do(t, h, http.MethodPost, "/finbot/quick/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/finbot/quick/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/finbot/input", `{"text":"my draft"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "my draft", st.Input)

	rec = do(t, h, http.MethodPost, "/finbot/send", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.Input())

	snap := svc.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "my draft", snap[1].Content)
}

func TestHandler_Status(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	h := newTestRouter(t, svc)

	rec := do(t, h, http.MethodGet, "/finbot/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "unavailable", st.Availability)
	assert.False(t, st.Busy)
}

func TestHandler_EventsStreamSnapshots(t *testing.T) {
	svc, _, _ := newTestService(t, nil, down)
	srv := httptest.NewServer(newTestRouter(t, svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/finbot/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan messagesResponse, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var m messagesResponse
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m) == nil {
				events <- m
			}
		}
		close(events)
	}()

	first := <-events
	require.Len(t, first.Messages, 1)

	_, err = svc.Submit(context.Background(), "scam?")
	require.NoError(t, err)

	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			if len(ev.Messages) == 3 && ev.Messages[2].Content != "" {
				assert.Contains(t, ev.Messages[2].Content, "Phishing")
				return
			}
		case <-ctx.Done():
			t.Fatal("no final snapshot received")
		}
	}
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type textPayload struct {
	Text string `json:"text"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type turnResponse struct {
	Turn     *Turn     `json:"turn"`
	Messages []Message `json:"messages"`
}

// HandleMessages — GET, текущая лента
func (h *Handler) HandleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messagesResponse{Messages: h.svc.Snapshot()})
}

// HandleSubmit — отправка вопроса. Отвечаем, когда ход закончен;
// промежуточные состояния идут через /events.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.submit(w, r, payload.Text)
}

// HandleSend submits whatever is in the input buffer.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.svc.Input())
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, text string) {
	// кнопка отправки выключена, пока бот думает
	if h.svc.Busy() {
		http.Error(w, "busy", http.StatusConflict)
		return
	}

	// отмены по разрыву соединения нет: ход доживает до конца
	turn, err := h.svc.Submit(context.WithoutCancel(r.Context()), text)
	if err != nil {
		log.Printf("[http] submit error: %v", err)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	if turn == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{Turn: turn, Messages: h.svc.Snapshot()})
}

// HandleClear — DELETE, только с подтверждением ?confirm=true
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !ok {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Clear(r.Context()); err != nil {
		log.Printf("[http] clear error: %v", err)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: h.svc.Snapshot()})
}

func (h *Handler) HandleSetInput(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.svc.SetInput(payload.Text)
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *Handler) HandleQuickList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"questions": QuickQuestions[:]})
}

func (h *Handler) HandleQuickFill(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "invalid quick question", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.QuickFill(n); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// HandleEvents streams every committed snapshot as server-sent events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, _ := h.svc.Subscribe(r.Context())

	if err := writeEvent(w, h.svc.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, snapshot); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snapshot []Message) error {
	b, err := json.Marshal(messagesResponse{Messages: snapshot})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: messages\ndata: %s\n\n", b)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode error: %v", err)
	}
}

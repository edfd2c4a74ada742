// Package conversation serves the chat endpoint used by the web front end.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/zhengjr9/foundry-agent/internal/errors"
	"github.com/zhengjr9/foundry-agent/internal/foundry"
	"github.com/zhengjr9/foundry-agent/internal/httputil"
)

// maxBodyBytes caps the request body.
const maxBodyBytes = 4 << 20

// ChatClient is the subset of *foundry.Client the handler needs.
type ChatClient interface {
	SendMessage(ctx context.Context, messages []foundry.Message, stream bool, extra foundry.Params) (*foundry.Stream, error)
	SendMessageNonStreaming(ctx context.Context, messages []foundry.Message, extra foundry.Params) (map[string]any, error)
}

// Handler implements POST /api/conversation.
type Handler struct {
	client  ChatClient
	enabled bool
	log     *slog.Logger
	now     func() time.Time
}

// NewHandler constructs a Handler. When enabled is false every request is
// rejected before the client is touched.
func NewHandler(client ChatClient, enabled bool) *Handler {
	return &Handler{
		client:  client,
		enabled: enabled,
		log:     slog.Default().With("component", "conversation"),
		now:     time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enabled || h.client == nil {
		h.log.Warn("Foundry is not enabled")
		apierrors.WriteError(w, apierrors.ErrFoundryDisabled)
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.ErrMalformedBody.Error()+": "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		h.log.Warn("no messages provided in request")
		apierrors.WriteError(w, apierrors.ErrMissingMessages)
		return
	}

	if req.streaming() {
		h.serveStream(w, r, req)
		return
	}
	h.serveBlocking(w, r, req)
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, req Request) {
	stream, err := h.client.SendMessage(r.Context(), req.Messages, true, nil)
	if err != nil {
		h.log.Error("conversation with Foundry failed", "error", err)
		apierrors.WriteError(w, err)
		return
	}
	defer stream.Close()

	fw := httputil.NewFlushWriter(w)
	httputil.SetSSEHeaders(fw)
	fw.WriteHeader(http.StatusOK)

	chunks := 0
	for stream.Next() {
		if err := fw.WriteSSEData(stream.Chunk()); err != nil {
			h.log.Debug("client went away", "error", err)
			return
		}
		chunks++
	}

	if err := stream.Err(); err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			h.log.Debug("client canceled stream", "chunks", chunks)
			return
		}
		// Headers are already sent: the failure goes out as an error frame
		// and [DONE] is withheld.
		h.log.Error("stream from Foundry failed", "error", err, "chunks", chunks)
		frame, _ := json.Marshal(map[string]string{"error": err.Error()})
		_ = fw.WriteSSEData(string(frame))
		return
	}

	if err := fw.WriteSSEDone(); err != nil {
		h.log.Debug("client went away before done", "error", err)
	}
	h.log.Info("stream completed", "chunks", chunks)
}

func (h *Handler) serveBlocking(w http.ResponseWriter, r *http.Request, req Request) {
	body, err := h.client.SendMessageNonStreaming(r.Context(), req.Messages, nil)
	if err != nil {
		h.log.Error("conversation with Foundry failed", "error", err)
		apierrors.WriteError(w, err)
		return
	}

	reply := FormatReply(body, req.HistoryMetadata, h.now())
	h.log.Info("reply extracted", "chars", len(reply.Choices[0].Messages[0].Content))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(reply); err != nil {
		h.log.Debug("write reply failed", "error", err)
	}
}

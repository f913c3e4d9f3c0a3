package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	defaultAttemptsLimit = 20
	maxAttemptsLimit     = 500
	listenerBufferSize   = 64
	pingInterval         = 30 * time.Second
)

type Handler struct {
	svc     application.Service
	bus     ports.EventBus
	metrics http.Handler

	eventsListenerHandler *broker[eventResponse]
	stopEvents            context.CancelFunc
}

func NewHandler(
	svc application.Service, bus ports.EventBus, metrics http.Handler,
) *Handler {
	return &Handler{
		svc:                   svc,
		bus:                   bus,
		metrics:               metrics,
		eventsListenerHandler: newBroker[eventResponse](),
	}
}

// Start forwards session and chain events from the bus to the SSE listeners.
func (h *Handler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	for _, topic := range []string{domain.SessionTopic, domain.ChainTopic} {
		if err := h.bus.Subscribe(ctx, topic, h.forward); err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s events: %s", topic, err)
		}
	}
	h.stopEvents = cancel
	return nil
}

func (h *Handler) Stop() {
	if h.stopEvents != nil {
		h.stopEvents()
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Post("/dungeon/enter", h.enterDungeon)
		r.Post("/dungeon/reset", h.resetDungeon)
		r.Get("/hero", h.getHero)
		r.Post("/hero/mint", h.mintHero)
		r.Get("/market", h.getMarket)
		r.Get("/fee", h.getFee)
		r.Get("/attempts", h.listAttempts)
		r.Get("/attempts/{id}", h.getAttempt)
		r.Get("/events", h.streamEvents)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.svc.GetStatus()))
}

func (h *Handler) enterDungeon(w http.ResponseWriter, r *http.Request) {
	sessionId, err := h.svc.StartDungeon(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enterResponse{SessionId: sessionId})
}

func (h *Handler) resetDungeon(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(h.svc.GetStatus()))
}

func (h *Handler) getHero(w http.ResponseWriter, r *http.Request) {
	hero, err := h.svc.GetHeroStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHeroResponse(*hero))
}

func (h *Handler) mintHero(w http.ResponseWriter, r *http.Request) {
	hero, err := h.svc.MintHero(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHeroResponse(*hero))
}

func (h *Handler) getMarket(w http.ResponseWriter, r *http.Request) {
	state := h.svc.GetMarketState(r.Context())
	writeJSON(w, http.StatusOK, marketResponse{State: uint8(state), Name: state.String()})
}

func (h *Handler) getFee(w http.ResponseWriter, r *http.Request) {
	quote, err := h.svc.QuoteFee(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxAttemptsLimit)
	}

	attempts, err := h.svc.ListAttempts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponses(attempts))
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid attempt id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	// A running attempt is reported as not found rather than awaited.
	attempt, err := h.svc.AwaitSession(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrAttemptNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "attempt not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResponse(*attempt))
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "streaming not supported",
		})
		return
	}

	var topics []string
	if v := r.URL.Query().Get("topics"); v != "" {
		for _, topic := range strings.Split(v, ",") {
			if topic = strings.TrimSpace(topic); topic != "" {
				topics = append(topics, topic)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := &listener[eventResponse]{
		id:     uuid.NewString(),
		topics: topics,
		ch:     make(chan eventResponse, listenerBufferSize),
	}
	h.eventsListenerHandler.pushListener(listener)
	defer h.eventsListenerHandler.removeListener(listener.id)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-listener.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Warnf("failed to encode %s event", ev.Type)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (h *Handler) forward(event domain.Event) {
	h.eventsListenerHandler.publish(event.GetTopic(), eventResponse{
		Topic: event.GetTopic(),
		Type:  event.GetType().String(),
		Data:  event,
	})
}

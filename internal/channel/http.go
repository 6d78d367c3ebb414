package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scriptagent/internal/agent"
	"scriptagent/internal/domain"
)

const maxRequestBytes = 1 << 20

// TaskService is the agent surface the HTTP API serves.
type TaskService interface {
	RunTask(ctx context.Context, task string) (*agent.TaskResult, error)
	Process(ctx context.Context, raw string) (*agent.TaskResult, error)
	State() *agent.State
	Tools() []domain.Tool
	Definitions() []domain.ToolDefinition
}

// NoteLister reads persisted notes.
type NoteLister interface {
	ListNotes(ctx context.Context, label string, limit int) ([]domain.NoteRecord, error)
}

// HTTP serves the task API. It implements domain.Channel so the gateway
// can start it next to the chat channels, but it answers requests
// directly instead of going through the bus.
type HTTP struct {
	addr        string
	apiKey      string
	tasks       TaskService
	notes       NoteLister
	metrics     http.Handler
	metricsPath string
	logger      *slog.Logger
	server      *http.Server
}

type HTTPConfig struct {
	Host   string
	Port   int
	APIKey string // when set, /v1 routes require "Authorization: Bearer <key>"
	Tasks  TaskService
	Notes  NoteLister // optional; falls back to the notes in shared state

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	h := &HTTP{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		apiKey:      cfg.APIKey,
		tasks:       cfg.Tasks,
		notes:       cfg.Notes,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
	}
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

func (h *HTTP) Name() string { return "http" }

// Router builds the route table.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if h.metrics != nil {
		r.Handle(h.metricsPath, h.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if h.apiKey != "" {
			r.Use(h.auth)
		}
		r.Post("/tasks", h.handleTask)
		r.Post("/responses", h.handleResponse)
		r.Get("/state", h.handleState)
		r.Get("/notes", h.handleNotes)
		r.Get("/tools", h.handleTools)
	})
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (h *HTTP) Start(ctx context.Context, _ domain.MessageBus) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", h.addr, err)
	}
	h.logger.Info("http api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- h.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	}
}

func (h *HTTP) Stop() error { return h.server.Close() }

// Send is unsupported; HTTP replies are synchronous.
func (h *HTTP) Send(context.Context, string, string) error {
	return errors.New("http channel does not push messages")
}

func (h *HTTP) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			h.logger.Warn("http api unauthorized", "security", true, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TaskResponse is the body returned for task and response submissions.
type TaskResponse struct {
	ID     string             `json:"id"`
	Status domain.TaskStatus  `json:"status"`
	State  json.RawMessage    `json:"state,omitempty"`
	Error  string             `json:"error,omitempty"`
	Kind   string             `json:"kind,omitempty"`
	Calls  []agent.CallRecord `json:"calls,omitempty"`
}

func (h *HTTP) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTP) handleTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Task) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task is required"})
		return
	}
	h.writeResult(w, func() (*agent.TaskResult, error) { return h.tasks.RunTask(r.Context(), body.Task) })
}

func (h *HTTP) handleResponse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response string `json:"response"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Response == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "response is required"})
		return
	}
	h.writeResult(w, func() (*agent.TaskResult, error) { return h.tasks.Process(r.Context(), body.Response) })
}

// writeResult runs fn and reports a failed task as 422 with the uniform
// error text.
func (h *HTTP) writeResult(w http.ResponseWriter, fn func() (*agent.TaskResult, error)) {
	res, err := fn()
	resp := TaskResponse{Status: domain.TaskSucceeded}
	if res != nil {
		resp.ID = res.ID
		resp.Calls = res.Calls
	}
	if err != nil {
		resp.Status = domain.TaskFailed
		resp.Error = agent.Output(res, err)
		resp.Kind = domain.KindName(err)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	resp.State = res.Snapshot
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTP) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tasks.State())
}

func (h *HTTP) handleNotes(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		notes, _ := h.tasks.State().Get("notes")
		if notes == nil {
			notes = []any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.notes.ListNotes(r.Context(), r.URL.Query().Get("label"), limit)
	if err != nil {
		h.logger.Error("list notes failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list notes"})
		return
	}
	if notes == nil {
		notes = []domain.NoteRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

type toolInfo struct {
	Name        string         `json:"name"`
	Signature   string         `json:"signature"`
	Description string         `json:"description"`
	Params      []domain.Param `json:"params"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema used to validate arguments
}

func (h *HTTP) handleTools(w http.ResponseWriter, _ *http.Request) {
	schemas := make(map[string]map[string]any)
	for _, d := range h.tasks.Definitions() {
		schemas[d.Name] = d.Parameters
	}
	tools := h.tasks.Tools()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{
			Name:        t.Name(),
			Signature:   agent.Signature(t),
			Description: t.Description(),
			Params:      t.Params(),
			Parameters:  schemas[t.Name()],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

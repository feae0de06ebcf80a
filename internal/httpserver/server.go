package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"topup-bot/internal/metrics"
	"topup-bot/internal/service"
)

const maxBodyBytes = 1 << 20

// Options tunes optional routes.
type Options struct {
	BasePath string
	Debug    bool
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	svc        *service.Service
	basePath   string
}

// New creates a new HTTP server listening on addr with health, metrics and API endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, svc *service.Service, opts Options) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		svc:      svc,
		basePath: normaliseBasePath(opts.BasePath),
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, server.routes(opts.Debug)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

func (s *Server) routes(debug bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/profile/{personal}", s.handleProfile)
	mux.HandleFunc("POST /api/profile/request-edit", s.handleRequestEdit)
	mux.HandleFunc("POST /api/profile/submit-edit", s.handleSubmitEdit)
	mux.HandleFunc("POST /api/help", s.handleHelp)
	mux.HandleFunc("POST /api/orders", s.handleOrder)
	mux.HandleFunc("POST /api/charge", s.handleCharge)
	mux.HandleFunc("POST /api/offer/ack", s.handleOfferAck)
	mux.HandleFunc("GET /api/notifications/{personal}", s.handleInbox)
	mux.HandleFunc("POST /api/notifications/mark-read", s.handleMarkRead)
	mux.HandleFunc("POST /api/notifications/mark-read/{personal}", s.handleMarkRead)
	mux.HandleFunc("POST /api/notifications/clear", s.handleClear)

	if debug {
		mux.HandleFunc("GET /api/debug/db", s.handleDebugDB)
		mux.HandleFunc("POST /api/debug/clear-updates", s.handleClearUpdates)
	}
	return mux
}

// Handler exposes the routed handler, including the base path prefix.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

var errorStatus = []struct {
	err    error
	status int
}{
	{service.ErrMissingField, http.StatusBadRequest},
	{service.ErrInvalidAmount, http.StatusBadRequest},
	{service.ErrInsufficientBalance, http.StatusPaymentRequired},
	{service.ErrInvalidPassword, http.StatusUnauthorized},
	{service.ErrBlocked, http.StatusForbidden},
	{service.ErrEditNotAllowed, http.StatusForbidden},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrChatSendFailed, http.StatusGatewayTimeout},
	{service.ErrLedgerUpdateFailed, http.StatusInternalServerError},
}

// writeError maps a service error to its status code. Only the sentinel
// text is returned to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				s.logger.Error("request failed", "path", r.URL.Path, "error", err)
			} else {
				s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			}
			writeJSONStatus(w, m.status, map[string]any{"ok": false, "error": m.err.Error()})
			return
		}
	}
	s.metrics.IncError("http")
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeJSONStatus(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "server_error"})
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		writeJSONStatus(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid_json"})
		return false
	}
	return true
}

// flexString accepts JSON strings and numbers alike.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// personalFields accepts both spellings used by clients.
type personalFields struct {
	PersonalNumber flexString `json:"personalNumber"`
	Personal       flexString `json:"personal"`
}

func (p personalFields) id() string {
	if p.PersonalNumber != "" {
		return p.PersonalNumber.String()
	}
	return p.Personal.String()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Name     string     `json:"name"`
		Email    string     `json:"email"`
		Password flexString `json:"password"`
		Phone    flexString `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	profile, err := s.svc.Register(r.Context(), service.RegisterInput{
		Personal: req.id(),
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password.String(),
		Phone:    req.Phone.String(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "profile": profile})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Email    string     `json:"email"`
		Password flexString `json:"password"`
		Name     string     `json:"name"`
		Phone    flexString `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.svc.Login(r.Context(), service.LoginInput{
		Personal: req.id(),
		Email:    req.Email,
		Password: req.Password.String(),
		Name:     req.Name,
		Phone:    req.Phone.String(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var loginNumber any
	if p.LoginNumber > 0 {
		loginNumber = p.LoginNumber
	}
	writeJSON(w, map[string]any{"ok": true, "profile": map[string]any{
		"personalNumber": p.PersonalNumber,
		"loginNumber":    loginNumber,
		"balance":        p.Balance,
		"name":           p.Name,
		"email":          p.Email,
		"phone":          p.Phone,
		"password":       p.Password,
	}})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.Profile(r.PathValue("personal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "profile": profile})
}

func (s *Server) handleRequestEdit(w http.ResponseWriter, r *http.Request) {
	var req personalFields
	if !decode(w, r, &req) {
		return
	}
	msgID, err := s.svc.RequestEdit(r.Context(), req.id())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "msgId": msgID})
}

func (s *Server) handleSubmitEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Name     string     `json:"name"`
		Email    string     `json:"email"`
		Phone    flexString `json:"phone"`
		Password flexString `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	profile, err := s.svc.SubmitEdit(r.Context(), service.EditInput{
		Personal: req.id(),
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone.String(),
		Password: req.Password.String(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "profile": profile})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Issue    string     `json:"issue"`
		Desc     string     `json:"desc"`
		FileLink string     `json:"fileLink"`
		Name     string     `json:"name"`
		Email    string     `json:"email"`
		Phone    flexString `json:"phone"`
	}
	if !decode(w, r, &req) {
		return
	}
	msgID, err := s.svc.Help(r.Context(), service.HelpInput{
		Personal: req.id(),
		Issue:    req.Issue,
		Desc:     req.Desc,
		FileLink: req.FileLink,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone.String(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "messageId": msgID})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Phone           flexString `json:"phone"`
		Type            string     `json:"type"`
		Item            string     `json:"item"`
		IDField         flexString `json:"idField"`
		FileLink        string     `json:"fileLink"`
		CashMethod      string     `json:"cashMethod"`
		PaidWithBalance bool       `json:"paidWithBalance"`
		PaidAmount      flexString `json:"paidAmount"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.SubmitOrder(r.Context(), service.OrderInput{
		Personal:        req.id(),
		Phone:           req.Phone.String(),
		Type:            req.Type,
		Item:            req.Item,
		IDField:         req.IDField.String(),
		FileLink:        req.FileLink,
		CashMethod:      req.CashMethod,
		PaidWithBalance: req.PaidWithBalance,
		PaidAmount:      req.PaidAmount.String(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "order": res.Order, "profile": res.Profile})
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		Phone    flexString `json:"phone"`
		Amount   flexString `json:"amount"`
		Method   string     `json:"method"`
		FileLink string     `json:"fileLink"`
	}
	if !decode(w, r, &req) {
		return
	}
	charge, err := s.svc.CreateCharge(r.Context(), service.ChargeInput{
		Personal: req.id(),
		Phone:    req.Phone.String(),
		Amount:   req.Amount.String(),
		Method:   req.Method,
		FileLink: req.FileLink,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "charge": charge})
}

func (s *Server) handleOfferAck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		personalFields
		OfferID flexString `json:"offerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	offerID, _ := strconv.ParseInt(req.OfferID.String(), 10, 64)
	if err := s.svc.AckOffer(r.Context(), req.id(), offerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	box, err := s.svc.Inbox(r.PathValue("personal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"ok":            true,
		"profile":       box.Profile,
		"offers":        box.Offers,
		"orders":        box.Orders,
		"charges":       box.Charges,
		"notifications": box.Notifications,
		"canEdit":       box.CanEdit,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req personalFields
	if !decode(w, r, &req) {
		return
	}
	personal := req.id()
	if personal == "" {
		personal = r.PathValue("personal")
	}
	if err := s.svc.MarkRead(r.Context(), personal); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req personalFields
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.ClearNotifications(r.Context(), req.id()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleDebugDB(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()
	writeJSON(w, map[string]any{
		"ok": true,
		"size": map[string]int{
			"profiles":      stats.Profiles,
			"orders":        stats.Orders,
			"charges":       stats.Charges,
			"offers":        stats.Offers,
			"notifications": stats.Notifications,
		},
		"botCursors": stats.Cursors,
	})
}

func (s *Server) handleClearUpdates(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResetCursors(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}

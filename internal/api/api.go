// Package api provides the HTTP surface for CalendarPipe: the Twilio inbound
// webhook, the delivery status callback and a health endpoint. It also feeds
// the Whatsmeow responses channel into the dialog engine so both transports
// drive the same state machine.
package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/flow"
	"github.com/BTreeMap/CalendarPipe/internal/messaging"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server routes inbound webhook traffic through the dialog engine.
type Server struct {
	engine  *flow.Engine
	service messaging.Service
	store   store.Store
	addr    string
	httpSrv *http.Server
}

// NewServer creates the API server over the dialog engine and messaging
// service.
func NewServer(engine *flow.Engine, svc messaging.Service, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Creating API server", "addr", cfg.Addr)

	s := &Server{
		engine:  engine,
		service: svc,
		store:   st,
		addr:    cfg.Addr,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/twilio/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		slog.Info("API server stopped")
		return nil
	}
}

// twimlResponse is the TwiML reply rendered for inbound Twilio webhooks.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// webhookHandler handles inbound Twilio WhatsApp messages. The dialog engine
// produces the reply, returned as TwiML so Twilio delivers it synchronously.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Webhook failed to parse form", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Webhook missing required fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	userID, err := s.service.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Error("Webhook recipient validation failed", "error", err, "from", from)
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}

	if err := s.store.AddResponse(models.Response{From: userID, Body: body, Time: time.Now().Unix()}); err != nil {
		slog.Error("Webhook failed to record inbound message", "error", err, "from", userID)
	}

	reply, err := s.engine.HandleMessage(r.Context(), userID, body)
	if err != nil {
		slog.Error("Webhook dialog handling failed", "error", err, "from", userID)
		// Still answer with TwiML so the user gets a reply instead of
		// silence.
		reply = "Sorry, something went wrong. Please try again."
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(twimlResponse{Message: reply}); err != nil {
		slog.Error("Webhook failed to encode TwiML", "error", err)
	}
}

// statusHandler handles Twilio delivery status callbacks.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	to := r.FormValue("To")
	status := r.FormValue("MessageStatus")
	slog.Debug("Twilio status callback", "to", to, "status", status)

	var mapped models.MessageStatus
	switch status {
	case "delivered", "read":
		mapped = models.MessageStatusDelivered
	case "failed", "undelivered":
		mapped = models.MessageStatusFailed
	case "sent", "queued", "sending":
		mapped = models.MessageStatusSent
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.store.AddReceipt(models.Receipt{To: to, Status: mapped, Time: time.Now().Unix()}); err != nil {
		slog.Error("Status callback failed to record receipt", "error", err, "to", to)
	}
	w.WriteHeader(http.StatusNoContent)
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ConsumeResponses feeds inbound messages from the messaging service's
// responses channel through the dialog engine, sending replies back over the
// same service. Used by the Whatsmeow transport, which has no webhook. Blocks
// until the context is cancelled or the channel closes.
func (s *Server) ConsumeResponses(ctx context.Context) {
	slog.Debug("Response consumer starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Response consumer stopping")
			return
		case resp, ok := <-s.service.Responses():
			if !ok {
				slog.Debug("Responses channel closed, consumer stopping")
				return
			}
			if err := s.store.AddResponse(resp); err != nil {
				slog.Error("Failed to record inbound message", "error", err, "from", resp.From)
			}
			reply, err := s.engine.HandleMessage(ctx, resp.From, resp.Body)
			if err != nil {
				slog.Error("Dialog handling failed", "error", err, "from", resp.From)
				continue
			}
			if err := s.service.SendMessage(ctx, resp.From, reply); err != nil {
				slog.Error("Failed to send dialog reply", "error", err, "to", resp.From)
			}
		}
	}
}

package control

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/config"
)

// Interaction types and response types on the wire.
const (
	interactionPing      = 1
	interactionCommand   = 2
	interactionComponent = 3

	responsePong    = 1
	responseMessage = 4

	flagEphemeral = 64
)

const maxBodyBytes = 1 << 20

// Server is the inbound control surface: a signed-interactions HTTP
// endpoint that exposes parameter reads and mutations.
type Server struct {
	cfg    *config.Store
	pubKey ed25519.PublicKey
	router *mux.Router
	srv    *http.Server
}

// NewServer builds the control surface over the live parameter store. The
// hex public key is mandatory; refusing to start without one is the
// caller's exit-code-2 path.
func NewServer(cfg *config.Store, publicKeyHex string) (*Server, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid interactions public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid interactions public key: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}

	s := &Server{cfg: cfg, pubKey: ed25519.PublicKey(raw)}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/interactions", s.handleInteraction).Methods(http.MethodPost)
	return s, nil
}

// Handler exposes the route table for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the endpoint until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("control surface listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control surface failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type interactionOption struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type interactionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type interaction struct {
	Type int `json:"type"`
	Data struct {
		Name     string              `json:"name"`
		CustomID string              `json:"custom_id"`
		Options  []interactionOption `json:"options"`
	} `json:"data"`
	Member struct {
		User interactionUser `json:"user"`
	} `json:"member"`
	User interactionUser `json:"user"`
}

// author resolves the acting user: guild payloads nest it under member,
// direct payloads carry it at the top level.
func (in *interaction) author() string {
	if in.Member.User.Username != "" {
		return in.Member.User.Username
	}
	if in.User.Username != "" {
		return in.User.Username
	}
	return "unknown"
}

func (in *interaction) option(name string) string {
	for _, opt := range in.Data.Options {
		if opt.Name != name {
			continue
		}
		var s string
		if err := json.Unmarshal(opt.Value, &s); err == nil {
			return s
		}
		return string(opt.Value)
	}
	return ""
}

// handleInteraction verifies the request signature before anything else.
// Unverified payloads get 401 with the body untouched.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Signature-Ed25519")
	ts := r.Header.Get("X-Signature-Timestamp")
	if !s.verify(sig, ts, body) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("rejected unsigned interaction")
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var in interaction
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch in.Type {
	case interactionPing:
		writeJSON(w, map[string]any{"type": responsePong})
	case interactionCommand:
		s.respond(w, s.runCommand(r.Context(), &in))
	case interactionComponent:
		s.respond(w, s.runComponent(r.Context(), &in))
	default:
		http.Error(w, "unsupported interaction type", http.StatusBadRequest)
	}
}

func (s *Server) verify(sigHex, timestamp string, body []byte) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := append([]byte(timestamp), body...)
	return ed25519.Verify(s.pubKey, msg, sig)
}

func (s *Server) respond(w http.ResponseWriter, content string) {
	writeJSON(w, map[string]any{
		"type": responseMessage,
		"data": map[string]any{
			"content": content,
			"flags":   flagEphemeral,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("interaction response write failed")
	}
}

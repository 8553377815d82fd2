package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/crewline/foreman/pkg/log"
)

// SignatureHeader carries the HMAC-SHA256 signature of the raw body
const SignatureHeader = "linear-signature"

// Resource types and actions seen in webhook deliveries
const (
	ResourceComment = "Comment"
	ResourceIssue   = "Issue"
	ActionCreate    = "create"
	ActionUpdate    = "update"
)

// WebhookPayload is an inbound event from the ticket system
type WebhookPayload struct {
	Action string          `json:"action"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// CommentData is the payload body for Comment events
type CommentData struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	IssueID string `json:"issueId"`
}

// WebhookHandlerFunc processes one webhook delivery
type WebhookHandlerFunc func(payload WebhookPayload)

// WebhookHandler verifies and dispatches ticket-system webhooks to
// handlers registered per (action, resource type).
type WebhookHandler struct {
	secret   string
	mu       sync.RWMutex
	handlers map[[2]string][]WebhookHandlerFunc
}

// NewWebhookHandler creates a webhook handler. With an empty secret,
// signature verification is skipped.
func NewWebhookHandler(secret string) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		handlers: make(map[[2]string][]WebhookHandlerFunc),
	}
}

// On registers a handler for an (action, resource type) pair
func (h *WebhookHandler) On(action, resourceType string, fn WebhookHandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := [2]string{action, resourceType}
	h.handlers[key] = append(h.handlers[key], fn)
}

// ClearHandlers removes all registered handlers
func (h *WebhookHandler) ClearHandlers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = make(map[[2]string][]WebhookHandlerFunc)
}

// VerifySignature checks the HMAC-SHA256 of body against signature
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ServeHTTP implements http.Handler for the webhook endpoint
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	logger := log.WithComponent("webhook")

	if h.secret != "" {
		sig := r.Header.Get(SignatureHeader)
		if sig == "" {
			http.Error(w, "missing signature", http.StatusUnauthorized)
			return
		}
		if !VerifySignature(body, sig, h.secret) {
			logger.Warn().Msg("rejected webhook delivery with bad signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	logger.Info().
		Str("action", payload.Action).
		Str("resource", payload.Type).
		Msg("webhook received")

	h.mu.RLock()
	handlers := h.handlers[[2]string{payload.Action, payload.Type}]
	h.mu.RUnlock()

	for _, fn := range handlers {
		// Handler panics must not take down the endpoint
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Interface("panic", r).
						Msg("webhook handler panicked")
				}
			}()
			fn(payload)
		}()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ABOUTME: HTTP API handlers for dispatching directives and polling the queue.
// ABOUTME: Provides /api/send, /api/messages/*, and /api/liveness/* endpoints.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waypost/waypost/internal/correlate"
	"github.com/waypost/waypost/internal/dispatch"
	"github.com/waypost/waypost/internal/liveness"
	"github.com/waypost/waypost/internal/queue"
)

// SendDirectiveRequest is the JSON request body for POST /api/send.
type SendDirectiveRequest struct {
	Target     string          `json:"target"`
	Channel    string          `json:"channel,omitempty"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	WantsReply bool            `json:"wants_reply,omitempty"`
	TimeoutMS  int             `json:"timeout_ms,omitempty"`
}

// SendDirectiveResponse is the JSON response for POST /api/send.
type SendDirectiveResponse struct {
	Delivery  string          `json:"delivery"`
	RequestID string          `json:"request_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}

// ClaimRequest is the JSON request body for POST /api/messages/claim.
type ClaimRequest struct {
	Recipient string `json:"recipient"`
	Limit     int    `json:"limit,omitempty"`
}

// MessageResponse is the JSON shape of one claimed or listed message.
type MessageResponse struct {
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Target         string          `json:"target"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	CreatedAt      string          `json:"created_at"`
	SentAt         string          `json:"sent_at,omitempty"`
	AcknowledgedAt string          `json:"acknowledged_at,omitempty"`
}

// ClaimResponse is the JSON response for POST /api/messages/claim.
type ClaimResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// AckRequest is the JSON request body for POST /api/messages/ack.
type AckRequest struct {
	MessageID string `json:"message_id"`
	Claimant  string `json:"claimant"`
}

// LivenessRequest is the JSON request body for the /api/liveness/* signal
// endpoints. Channel scopes the signal to a logical session; without it the
// signal applies at the hub level.
type LivenessRequest struct {
	Subject string `json:"subject"`
	Channel string `json:"channel,omitempty"`
}

// LivenessStateResponse is the JSON response for GET /api/liveness.
// HeartbeatInterval advertises the cadence clients are expected to beat at;
// missing the configured timeout window forces the subject down.
type LivenessStateResponse struct {
	Subject           string `json:"subject"`
	Level             string `json:"level"`
	State             string `json:"state"`
	HeartbeatInterval string `json:"heartbeat_interval"`
}

// handleSend handles POST /api/send requests.
// It dispatches one directive through the liveness-gated path choice: pushed
// to a live session, or queued for later claim. With wants_reply it blocks
// until the correlated reply arrives or the timeout elapses.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sendReq := &dispatch.SendRequest{
		Target:     req.Target,
		Channel:    req.Channel,
		EventType:  queue.EventType(req.EventType),
		Payload:    req.Payload,
		WantsReply: req.WantsReply,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
	}

	result, err := g.dispatcher.Send(r.Context(), sendReq)
	if err != nil {
		switch {
		case errors.Is(err, correlate.ErrTimedOut):
			g.sendJSONError(w, http.StatusGatewayTimeout, "reply timed out")
		case errors.Is(err, queue.ErrInvalidEventType):
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
		default:
			g.logger.Error("failed to dispatch directive", "target", req.Target, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	response := SendDirectiveResponse{
		Delivery:  string(result.Delivery),
		RequestID: result.RequestID,
		MessageID: result.MessageID,
		Reply:     result.Reply,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// parseSendRequest parses and validates a SendDirectiveRequest from the given
// reader. Returns an error if the JSON is invalid or required fields are
// missing.
func parseSendRequest(r io.Reader) (*SendDirectiveRequest, error) {
	var req SendDirectiveRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Target == "" {
		return nil, errors.New("target is required")
	}

	if req.EventType == "" {
		return nil, errors.New("event_type is required")
	}

	if !queue.EventType(req.EventType).Valid() {
		return nil, fmt.Errorf("unknown event_type %q", req.EventType)
	}

	return &req, nil
}

// handleClaim handles POST /api/messages/claim requests.
// Atomically claims up to limit pending messages for the recipient. Messages
// come back oldest first and move to the sent status; claiming an empty queue
// returns an empty list, not an error.
func (g *Gateway) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Recipient == "" {
		g.sendJSONError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = g.config.Queue.ClaimLimit
	}

	messages, err := g.store.ClaimForDelivery(r.Context(), req.Recipient, limit)
	if err != nil {
		// Rows claimed before a mid-batch failure are already in sent state.
		// With no lease expiry they would be stranded forever if dropped
		// here, so a partial batch is returned to its claimant.
		if len(messages) == 0 {
			g.logger.Error("failed to claim messages", "recipient", req.Recipient, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		g.logger.Error("claim failed mid-batch, returning partial result",
			"recipient", req.Recipient,
			"claimed", len(messages),
			"error", err,
		)
	}

	response := ClaimResponse{Messages: make([]MessageResponse, len(messages))}
	for i, msg := range messages {
		response.Messages[i] = messageToResponse(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAck handles POST /api/messages/ack requests.
// Only the claimant that pulled a message may acknowledge it; anything else
// is indistinguishable from a missing message and maps to 404.
func (g *Gateway) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.MessageID == "" || req.Claimant == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message_id and claimant are required")
		return
	}

	err := g.store.Acknowledge(r.Context(), req.MessageID, req.Claimant)
	if errors.Is(err, queue.ErrNotFoundOrNotClaimed) {
		g.sendJSONError(w, http.StatusNotFound, "message not found or not claimed by this recipient")
		return
	}
	if err != nil {
		g.logger.Error("failed to acknowledge message", "message_id", req.MessageID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseLivenessRequest decodes a LivenessRequest and resolves the tracked
// subject and level. A channel-scoped signal targets the derived channel
// subject.
func parseLivenessRequest(r io.Reader) (subject string, level liveness.Level, err error) {
	var req LivenessRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return "", "", errors.New("invalid JSON body")
	}
	if req.Subject == "" {
		return "", "", errors.New("subject is required")
	}
	if req.Channel != "" {
		return liveness.ChannelSubject(req.Subject, req.Channel), liveness.LevelChannel, nil
	}
	return req.Subject, liveness.LevelHub, nil
}

// handleLivenessConnect handles POST /api/liveness/connect requests.
func (g *Gateway) handleLivenessConnect(w http.ResponseWriter, r *http.Request) {
	g.handleLivenessSignal(w, r, g.tracker.OnConnect)
}

// handleLivenessDisconnect handles POST /api/liveness/disconnect requests.
func (g *Gateway) handleLivenessDisconnect(w http.ResponseWriter, r *http.Request) {
	g.handleLivenessSignal(w, r, g.tracker.OnDisconnect)
}

// handleLivenessHeartbeat handles POST /api/liveness/heartbeat requests.
func (g *Gateway) handleLivenessHeartbeat(w http.ResponseWriter, r *http.Request) {
	g.handleLivenessSignal(w, r, g.tracker.Heartbeat)
}

// handleLivenessSignal is the shared body of the three liveness signal
// endpoints.
func (g *Gateway) handleLivenessSignal(w http.ResponseWriter, r *http.Request, signal func(string, liveness.Level)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	subject, level, err := parseLivenessRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	signal(subject, level)
	w.WriteHeader(http.StatusNoContent)
}

// handleLivenessState handles GET /api/liveness?subject=X&level=Y requests.
// Unknown subjects report the unreachable state for the requested level.
func (g *Gateway) handleLivenessState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	subject := r.URL.Query().Get("subject")
	if subject == "" {
		g.sendJSONError(w, http.StatusBadRequest, "subject query param required")
		return
	}

	level := liveness.Level(r.URL.Query().Get("level"))
	if level == "" {
		level = liveness.LevelHub
	}
	if level != liveness.LevelHub && level != liveness.LevelChannel {
		g.sendJSONError(w, http.StatusBadRequest, "level must be hub or channel")
		return
	}

	response := LivenessStateResponse{
		Subject:           subject,
		Level:             string(level),
		State:             string(g.tracker.State(subject, level)),
		HeartbeatInterval: g.config.Liveness.HeartbeatInterval.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// messageToResponse converts a queue message to its JSON boundary shape.
func messageToResponse(msg *queue.Message) MessageResponse {
	resp := MessageResponse{
		ID:        msg.ID,
		EventType: string(msg.EventType),
		Payload:   msg.Payload,
		Status:    string(msg.Status),
		Target:    msg.Target,
		ClaimedBy: msg.ClaimedBy,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
	if msg.SentAt != nil {
		resp.SentAt = msg.SentAt.Format(time.RFC3339)
	}
	if msg.AcknowledgedAt != nil {
		resp.AcknowledgedAt = msg.AcknowledgedAt.Format(time.RFC3339)
	}
	return resp
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

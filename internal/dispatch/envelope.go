package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/telegraphhq/telegraph/internal/models"
)

// legacyEnvelope is the gateway-proxy wire shape some producers still emit:
// the request JSON is double-encoded into the body field.
type legacyEnvelope struct {
	RequestContext struct {
		HTTP struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
	Body string `json:"body"`
}

// ParseRequest decodes a queue message body into a NotificationRequest. Both
// wire shapes are accepted: a bare request object, or the legacy proxy
// envelope carrying the request as a JSON string in its body field.
func ParseRequest(body []byte) (*models.NotificationRequest, error) {
	var envelope legacyEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil &&
		envelope.RequestContext.HTTP.Method != "" && envelope.Body != "" {
		body = []byte(envelope.Body)
	}

	var request models.NotificationRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("dispatch: decode request: %w", err)
	}

	if strings.TrimSpace(request.UserID) == "" {
		return nil, errors.New("dispatch: request missing user_id")
	}
	if strings.TrimSpace(request.Channel) == "" {
		return nil, errors.New("dispatch: request missing channel")
	}
	return &request, nil
}

// WrapLegacy encodes a request in the legacy proxy envelope. Milestone
// producers keep emitting this shape so mixed-version consumers stay
// compatible.
func WrapLegacy(request *models.NotificationRequest) ([]byte, error) {
	inner, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode request: %w", err)
	}

	var envelope legacyEnvelope
	envelope.RequestContext.HTTP.Method = "POST"
	envelope.Body = string(inner)

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode envelope: %w", err)
	}
	return body, nil
}

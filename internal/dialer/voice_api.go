package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

const defaultDialTimeout = 20 * time.Second

type VoiceAPIConfig struct {
	Endpoint        string
	Token           string
	AgentID         string
	PriorityAgentID string
	CallerID        string
	Timeout         time.Duration
}

type placeCallRequest struct {
	AgentID              string            `json:"agent_id"`
	RecipientPhoneNumber string            `json:"recipient_phone_number"`
	FromPhoneNumber      string            `json:"from_phone_number,omitempty"`
	UserData             map[string]string `json:"user_data,omitempty"`
}

type placeCallResponse struct {
	ID     string `json:"id"`
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// VoiceAPIDialer places calls through a hosted voice-agent REST API.
type VoiceAPIDialer struct {
	client   *resty.Client
	endpoint string
	agents   map[domain.PolicyKey]string
	agentID  string
	callerID string
}

var (
	_ Dialer        = (*VoiceAPIDialer)(nil)
	_ AgentSelector = (*VoiceAPIDialer)(nil)
)

func NewVoiceAPIDialer(cfg VoiceAPIConfig) (*VoiceAPIDialer, error) {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return NewVoiceAPIDialerWithClient(cfg, client)
}

func NewVoiceAPIDialerWithClient(cfg VoiceAPIConfig, client *resty.Client) (*VoiceAPIDialer, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("dialer endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid dialer endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDialTimeout)
	}
	client.SetRetryCount(0)
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetAuthToken(token)
	}

	agents := make(map[domain.PolicyKey]string)
	if id := strings.TrimSpace(cfg.PriorityAgentID); id != "" {
		agents[domain.PolicyPriority] = id
	}

	return &VoiceAPIDialer{
		client:   client,
		endpoint: endpoint,
		agents:   agents,
		agentID:  strings.TrimSpace(cfg.AgentID),
		callerID: strings.TrimSpace(cfg.CallerID),
	}, nil
}

// AgentID returns the voice agent used for a policy, falling back to the default agent.
func (d *VoiceAPIDialer) AgentID(key domain.PolicyKey) string {
	if id, ok := d.agents[key]; ok {
		return id
	}
	return d.agentID
}

func (d *VoiceAPIDialer) PlaceCall(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("dialer is not initialized")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, &DialError{Message: "recipient phone is required"}
	}

	userData := map[string]string{
		"lead_id":   req.LeadID,
		"lead_name": req.LeadName,
		"policy":    req.PolicyKey.String(),
	}
	for k, v := range req.Context {
		userData[k] = v
	}

	body := placeCallRequest{
		AgentID:              d.AgentID(req.PolicyKey),
		RecipientPhoneNumber: req.Phone,
		FromPhoneNumber:      d.callerID,
		UserData:             userData,
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(d.endpoint)
	if err != nil {
		return nil, &DialError{
			Message:   "call request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &DialError{
			Message:   "dialer returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &DialError{
			StatusCode: statusCode,
			Message:    dialErrorMessage(statusCode, responseBody),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	callID, err := parseCallID(response.Body())
	if err != nil {
		return nil, &DialError{
			Message: "unusable dialer response",
			Cause:   err,
		}
	}

	return &CallResponse{
		CallID:     callID,
		StatusCode: statusCode,
		Body:       responseBody,
	}, nil
}

func parseCallID(body []byte) (string, error) {
	var parsed placeCallResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	for _, candidate := range []string{parsed.ID, parsed.CallID} {
		if id := strings.TrimSpace(candidate); id != "" {
			return id, nil
		}
	}

	return "", fmt.Errorf("response carries no call id")
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func dialErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("dialer returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

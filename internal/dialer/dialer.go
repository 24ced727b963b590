package dialer

import (
	"context"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

// Dialer is the outbound voice-call placement port.
type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (*CallResponse, error)
}

// AgentSelector is implemented by dialers that route calls through
// per-policy agents. The engine uses it to pick the rate limit bucket.
type AgentSelector interface {
	AgentID(key domain.PolicyKey) string
}

type CallRequest struct {
	LeadID    string
	Phone     string
	LeadName  string
	PolicyKey domain.PolicyKey
	Context   map[string]string
}

// CallResponse stores provider call metadata for the attempt log.
type CallResponse struct {
	CallID     string
	StatusCode int
	Body       string
}

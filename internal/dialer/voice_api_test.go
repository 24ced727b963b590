package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

func newTestDialer(t *testing.T, url string) *VoiceAPIDialer {
	t.Helper()

	d, err := NewVoiceAPIDialer(VoiceAPIConfig{
		Endpoint:        url,
		Token:           "secret-token",
		AgentID:         "agent-default",
		PriorityAgentID: "agent-priority",
		CallerID:        "+918000000000",
		Timeout:         time.Second,
	})
	if err != nil {
		t.Fatalf("NewVoiceAPIDialer() error = %v", err)
	}
	return d
}

func TestVoiceAPIDialerPlaceCallSuccess(t *testing.T) {
	t.Parallel()

	var gotBody placeCallRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"queued","call_id":"exec-77"}`))
	}))
	defer server.Close()

	d := newTestDialer(t, server.URL)

	resp, err := d.PlaceCall(context.Background(), CallRequest{
		LeadID:    "1001",
		Phone:     "+919812345678",
		LeadName:  "Asha",
		PolicyKey: domain.PolicyPriority,
		Context:   map[string]string{"trigger": "scheduled"},
	})
	if err != nil {
		t.Fatalf("PlaceCall() unexpected error: %v", err)
	}

	if resp.CallID != "exec-77" {
		t.Fatalf("CallID = %q, want exec-77", resp.CallID)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.AgentID != "agent-priority" {
		t.Fatalf("agent_id = %q, want agent-priority", gotBody.AgentID)
	}
	if gotBody.RecipientPhoneNumber != "+919812345678" {
		t.Fatalf("recipient_phone_number = %q", gotBody.RecipientPhoneNumber)
	}
	if gotBody.FromPhoneNumber != "+918000000000" {
		t.Fatalf("from_phone_number = %q", gotBody.FromPhoneNumber)
	}
	if gotBody.UserData["lead_id"] != "1001" || gotBody.UserData["trigger"] != "scheduled" {
		t.Fatalf("user_data = %v", gotBody.UserData)
	}
}

func TestVoiceAPIDialerPrefersIDField(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"primary","call_id":"secondary"}`))
	}))
	defer server.Close()

	resp, err := newTestDialer(t, server.URL).PlaceCall(context.Background(), CallRequest{LeadID: "1", Phone: "+911"})
	if err != nil {
		t.Fatalf("PlaceCall() unexpected error: %v", err)
	}
	if resp.CallID != "primary" {
		t.Fatalf("CallID = %q, want primary", resp.CallID)
	}
}

func TestVoiceAPIDialerAgentSelection(t *testing.T) {
	t.Parallel()

	d := newTestDialer(t, "https://voice.example/call")
	if got := d.AgentID(domain.PolicyDefault); got != "agent-default" {
		t.Fatalf("AgentID(default) = %q", got)
	}
	if got := d.AgentID(domain.PolicyPriority); got != "agent-priority" {
		t.Fatalf("AgentID(priority) = %q", got)
	}
}

func TestVoiceAPIDialerUnusableResponses(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>gateway</html>`},
		{name: "no call id", body: `{"status":"queued"}`},
		{name: "empty body", body: ``},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestDialer(t, server.URL).PlaceCall(context.Background(), CallRequest{LeadID: "1", Phone: "+911"})
			var dialErr *DialError
			if !errors.As(err, &dialErr) {
				t.Fatalf("PlaceCall() error = %v, want DialError", err)
			}
			if IsTransient(err) {
				t.Fatal("unusable response should not be transient")
			}
			if got := FailureReason(err); got != "bad_response" {
				t.Fatalf("FailureReason() = %q, want bad_response", got)
			}
		})
	}
}

func TestVoiceAPIDialerStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("dialer failed"))
			}))
			defer server.Close()

			_, err := newTestDialer(t, server.URL).PlaceCall(context.Background(), CallRequest{LeadID: "1", Phone: "+911"})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var dialErr *DialError
			if !errors.As(err, &dialErr) {
				t.Fatalf("expected DialError, got %T", err)
			}
			if dialErr.StatusCode != tc.statusCode {
				t.Fatalf("DialError.StatusCode = %d, want %d", dialErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestVoiceAPIDialerTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"late"}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	d, err := NewVoiceAPIDialerWithClient(VoiceAPIConfig{Endpoint: server.URL}, client)
	if err != nil {
		t.Fatalf("NewVoiceAPIDialerWithClient() error = %v", err)
	}

	_, err = d.PlaceCall(context.Background(), CallRequest{LeadID: "1", Phone: "+911"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestVoiceAPIDialerRequiresPhone(t *testing.T) {
	t.Parallel()

	d := newTestDialer(t, "https://voice.example/call")
	if _, err := d.PlaceCall(context.Background(), CallRequest{LeadID: "1"}); err == nil {
		t.Fatal("expected error for missing phone")
	}
}

func TestNewVoiceAPIDialerValidatesEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewVoiceAPIDialer(VoiceAPIConfig{Endpoint: " "}); err == nil {
		t.Fatal("expected error for blank endpoint")
	}
	if _, err := NewVoiceAPIDialer(VoiceAPIConfig{Endpoint: "not a url"}); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}

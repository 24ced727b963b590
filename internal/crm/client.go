package crm

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

const (
	defaultCRMTimeout = 10 * time.Second

	EntityLead = "lead"

	StatusJunk = "JUNK"
)

// Client is the CRM port. The engine treats every call as fire-and-forget:
// failures are returned, logged by the caller, and never retried.
type Client interface {
	GetLead(ctx context.Context, leadID string) (*Lead, error)
	UpdateLead(ctx context.Context, leadID string, fields map[string]any) error
	AddTimelineComment(ctx context.Context, entityID string, entityType string, text string) error
}

type Lead struct {
	ID        string
	Title     string
	FirstName string
	LastName  string
	Phone     string
	StatusID  string
	CreatedAt string
}

// DisplayName joins first and last name, falling back to the lead title.
func (l Lead) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
	if name == "" {
		return strings.TrimSpace(l.Title)
	}
	return name
}

type multiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

type leadPayload struct {
	ID         string       `json:"ID"`
	Title      string       `json:"TITLE"`
	Name       string       `json:"NAME"`
	LastName   string       `json:"LAST_NAME"`
	StatusID   string       `json:"STATUS_ID"`
	DateCreate string       `json:"DATE_CREATE"`
	Phone      []multiField `json:"PHONE"`
}

type getLeadResponse struct {
	Result *leadPayload `json:"result"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type updateLeadRequest struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type timelineCommentRequest struct {
	Fields timelineCommentFields `json:"fields"`
}

type timelineCommentFields struct {
	EntityID   string `json:"ENTITY_ID"`
	EntityType string `json:"ENTITY_TYPE"`
	Comment    string `json:"COMMENT"`
}

// Error is returned for non-2xx CRM responses.
type Error struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("crm error: status=%d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// RESTClient talks to a CRM inbound-webhook REST base URL.
type RESTClient struct {
	client *resty.Client
}

var _ Client = (*RESTClient)(nil)

func NewRESTClient(webhookURL string, timeout time.Duration) (*RESTClient, error) {
	client := resty.New()
	client.SetTimeout(timeout)

	return NewRESTClientWithClient(webhookURL, client)
}

func NewRESTClientWithClient(webhookURL string, client *resty.Client) (*RESTClient, error) {
	base := strings.TrimSpace(webhookURL)
	if base == "" {
		return nil, fmt.Errorf("crm webhook url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid crm webhook url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultCRMTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(base)

	return &RESTClient{client: client}, nil
}

func (c *RESTClient) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var out getLeadResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id", leadID).
		Get("crm.lead.get.json")
	if err != nil {
		return nil, fmt.Errorf("failed to get crm lead: %w", err)
	}
	if err := responseError(response); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(response.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode crm lead: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("crm lead %s: %w", leadID, domain.ErrNotFound)
	}

	lead := &Lead{
		ID:        out.Result.ID,
		Title:     out.Result.Title,
		FirstName: out.Result.Name,
		LastName:  out.Result.LastName,
		StatusID:  out.Result.StatusID,
		CreatedAt: out.Result.DateCreate,
	}
	for _, phone := range out.Result.Phone {
		if value := strings.TrimSpace(phone.Value); value != "" {
			lead.Phone = value
			break
		}
	}

	return lead, nil
}

func (c *RESTClient) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(updateLeadRequest{ID: leadID, Fields: fields}).
		Post("crm.lead.update.json")
	if err != nil {
		return fmt.Errorf("failed to update crm lead: %w", err)
	}
	return responseError(response)
}

func (c *RESTClient) AddTimelineComment(ctx context.Context, entityID string, entityType string, text string) error {
	body := timelineCommentRequest{
		Fields: timelineCommentFields{
			EntityID:   entityID,
			EntityType: entityType,
			Comment:    text,
		},
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("crm.timeline.comment.add")
	if err != nil {
		return fmt.Errorf("failed to add crm timeline comment: %w", err)
	}
	return responseError(response)
}

func responseError(response *resty.Response) error {
	if response == nil {
		return errors.New("crm returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	crmErr := &Error{StatusCode: statusCode}
	var payload errorResponse
	if err := json.Unmarshal(response.Body(), &payload); err == nil {
		crmErr.Code = payload.Error
		crmErr.Description = payload.ErrorDescription
	}
	if crmErr.Code == "" && crmErr.Description == "" {
		crmErr.Description = strings.TrimSpace(response.String())
	}

	if statusCode == http.StatusNotFound || strings.EqualFold(crmErr.Description, "not found") {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, crmErr)
	}

	return crmErr
}

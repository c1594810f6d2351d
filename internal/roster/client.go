// Package roster talks to the on-call roster service.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carecore/internal/telemetry"
)

// DefaultTimeout bounds every roster call.
const DefaultTimeout = 5 * time.Second

// ErrUnavailable covers timeouts, transport failures and non-2xx answers.
var ErrUnavailable = errors.New("roster service unavailable")

// Candidate is a staff member currently on call for a role. Lower tier wins.
type Candidate struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Tier       int    `json:"tier"`
}

// ClaimResult carries the incident details the roster echoes back on a claim.
type ClaimResult struct {
	Severity  string
	PatientID string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CurrentOnCall lists who is on call for role right now.
func (c *Client) CurrentOnCall(ctx context.Context, role string) ([]Candidate, error) {
	endpoint := c.baseURL + "/oncall/current?" + url.Values{"role": {role}}.Encode()
	var out []Candidate
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	telemetry.ObserveRoster("current", err == nil)
	if err != nil {
		return nil, fmt.Errorf("on-call lookup for %s: %w", role, err)
	}
	return out, nil
}

// Claim reserves employeeID for incidentID.
func (c *Client) Claim(ctx context.Context, incidentID, employeeID string) (ClaimResult, error) {
	payload := map[string]string{
		"incident_id": incidentID,
		"employee_id": employeeID,
	}
	var response struct {
		Incident struct {
			Severity  string `json:"severity"`
			PatientID string `json:"patient_id"`
		} `json:"incident"`
	}
	err := c.do(ctx, http.MethodPost, c.baseURL+"/oncall/assign", payload, &response)
	telemetry.ObserveRoster("assign", err == nil)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim %s for %s: %w", employeeID, incidentID, err)
	}
	return ClaimResult{Severity: response.Incident.Severity, PatientID: response.Incident.PatientID}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base URL not configured", ErrUnavailable)
	}
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: roster returned %s", ErrUnavailable, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

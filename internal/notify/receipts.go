package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ReceiptClient marks incident notifications as read on the notification service.
type ReceiptClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewReceiptClient(baseURL string, timeout time.Duration) *ReceiptClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ReceiptClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ReceiptClient) MarkRead(ctx context.Context, incidentID, employeeID string) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"employee_id": employeeID})
	if err != nil {
		return err
	}
	endpoint := c.baseURL + "/notifications/incident/" + url.PathEscape(incidentID) + "/mark-read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification service returned %s", resp.Status)
	}
	return nil
}

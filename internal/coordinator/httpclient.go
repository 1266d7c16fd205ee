package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/streamkv/statestore/internal/layout"
)

// HTTPClient is a Client implementation that talks to a coordinator over
// HTTP. It hides request construction and JSON encoding/decoding behind a
// small typed SDK (APIError, checkStatus, a single *http.Client with a
// timeout).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient. A zero timeout defaults to 10s —
// never call a coordinator without a timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// ReportActiveRequest and VerifyActiveRequest/Response are the wire shapes
// of the coordinator's two RPCs, shared with internal/devcoordinator's
// Server so the two sides cannot independently drift out of sync.
type ReportActiveRequest struct {
	OperatorId  int64  `json:"operator_id"`
	PartitionId int32  `json:"partition_id"`
	Host        string `json:"host"`
	ExecutorID  string `json:"executor_id"`
}

type VerifyActiveRequest struct {
	OperatorId  int64  `json:"operator_id"`
	PartitionId int32  `json:"partition_id"`
	ExecutorID  string `json:"executor_id"`
}

type VerifyActiveResponse struct {
	Active bool `json:"active"`
}

// ReportActiveInstance is advisory: the coordinator records who claims the
// partition. A non-2xx response or transport failure is a
// coordinator-unreachable condition and is returned to the caller, who
// reacts by clearing the whole registry defensively.
func (c *HTTPClient) ReportActiveInstance(ctx context.Context, id layout.StoreId, identity HostIdentity) error {
	body, err := json.Marshal(ReportActiveRequest{
		OperatorId:  id.OperatorId,
		PartitionId: id.PartitionId,
		Host:        identity.Host(),
		ExecutorID:  identity.ExecutorID(),
	})
	if err != nil {
		return fmt.Errorf("marshal report-active request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/coordinator/active", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// VerifyIfInstanceActive returns false whenever the coordinator cannot be
// reached or reports the instance inactive — never an error.
func (c *HTTPClient) VerifyIfInstanceActive(ctx context.Context, id layout.StoreId, executorID string) bool {
	body, err := json.Marshal(VerifyActiveRequest{
		OperatorId:  id.OperatorId,
		PartitionId: id.PartitionId,
		ExecutorID:  executorID,
	})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/coordinator/verify", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return false
	}
	var out VerifyActiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Active
}

// APIError carries the HTTP status and message from a non-2xx coordinator
// response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &parsed)
	msg := parsed.Error
	if msg == "" {
		msg = string(data)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

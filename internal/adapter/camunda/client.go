// Package camunda implements the workflow.Engine interface against the
// Camunda engine REST API.
package camunda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nickerso/physiome-coko/internal/config"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

// Client talks to the engine REST API. All failures surface uniformly as
// domain.ErrEngine; the detail is logged here. Calls are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a Client from the engine configuration.
func NewClient(cfg config.EngineConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With("adapter", "camunda"),
	}
}

// NewClientWithURL creates a Client with a custom base URL (for testing).
func NewClientWithURL(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.With("adapter", "camunda"),
	}
}

type startProcessRequest struct {
	BusinessKey       string                      `json:"businessKey"`
	Variables         workflow.Variables          `json:"variables,omitempty"`
	StartInstructions []workflow.StartInstruction `json:"startInstructions,omitempty"`
}

// StartProcess begins a process definition by key with the entity id as
// business key.
func (c *Client) StartProcess(ctx context.Context, key, businessKey string, instructions []workflow.StartInstruction, variables workflow.Variables) error {
	reqURL := fmt.Sprintf("%s/process-definition/key/%s/start", c.baseURL, url.PathEscape(key))

	body := startProcessRequest{
		BusinessKey:       businessKey,
		Variables:         variables,
		StartInstructions: instructions,
	}

	if err := c.post(ctx, "start process", reqURL, body, nil); err != nil {
		return err
	}

	c.log.DebugContext(ctx, "process started",
		slog.String("key", key),
		slog.String("business_key", businessKey),
	)
	return nil
}

// ListTasks returns the open tasks of the process instance with the given
// business key, in the order the engine returns them.
func (c *Client) ListTasks(ctx context.Context, businessKey string) ([]workflow.Task, error) {
	reqURL := fmt.Sprintf("%s/task?processInstanceBusinessKey=%s", c.baseURL, url.QueryEscape(businessKey))

	var tasks []workflow.Task
	if err := c.get(ctx, "list tasks", reqURL, &tasks); err != nil {
		return nil, err
	}

	if tasks == nil {
		tasks = []workflow.Task{}
	}
	return tasks, nil
}

// FindInstance looks up a process instance by business key. Returns nil when
// the engine knows no such instance.
func (c *Client) FindInstance(ctx context.Context, businessKey string) (*workflow.ProcessInstance, error) {
	reqURL := fmt.Sprintf("%s/process-instance?businessKey=%s", c.baseURL, url.QueryEscape(businessKey))

	var instances []workflow.ProcessInstance
	if err := c.get(ctx, "find process instance", reqURL, &instances); err != nil {
		return nil, err
	}

	if len(instances) == 0 {
		return nil, nil
	}
	return &instances[0], nil
}

// DeleteInstance cancels a process instance. A 404 is treated as success so
// cancellation stays idempotent on already-deleted instances.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	reqURL := fmt.Sprintf("%s/process-instance/%s", c.baseURL, url.PathEscape(instanceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return c.engineError(ctx, "delete process instance", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.engineError(ctx, "delete process instance", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return c.engineError(ctx, "delete process instance", statusError(resp))
	}

	return nil
}

type completeTaskRequest struct {
	Variables workflow.Variables `json:"variables"`
}

// CompleteTask marks a task done, passing the given variables.
func (c *Client) CompleteTask(ctx context.Context, taskID string, variables workflow.Variables) error {
	reqURL := fmt.Sprintf("%s/task/%s/complete", c.baseURL, url.PathEscape(taskID))
	return c.post(ctx, "complete task", reqURL, completeTaskRequest{Variables: variables}, nil)
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, op, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return c.engineError(ctx, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.engineError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.engineError(ctx, op, statusError(resp))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.engineError(ctx, op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.engineError(ctx, op, err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, op, reqURL string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return c.engineError(ctx, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(raw))
	if err != nil {
		return c.engineError(ctx, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.engineError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.engineError(ctx, op, statusError(resp))
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.engineError(ctx, op, err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return c.engineError(ctx, op, err)
		}
	}

	return nil
}

func (c *Client) engineError(ctx context.Context, op string, err error) error {
	c.log.ErrorContext(ctx, "engine call failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return domain.NewEngineError(op, err)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
}

// Ping checks engine reachability via the version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var version struct {
		Version string `json:"version"`
	}
	return c.get(ctx, "ping", c.baseURL+"/version", &version)
}

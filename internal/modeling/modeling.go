// Package modeling turns a friend's photo into a rigged 3D model through an
// image-to-3D task service.
//
// A generation is a create call followed by status polls:
//
//	POST {endpoint}/openapi/v1/image-to-3d  {"image_url": "..."}
//	GET  {endpoint}/openapi/v1/tasks/{id}   until status is succeeded or failed
package modeling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/personifai/personifai/internal/config"
)

var tracer = otel.Tracer("github.com/personifai/personifai/internal/modeling")

var (
	// ErrTaskFailed is returned when the service reports the task failed.
	ErrTaskFailed = errors.New("3d generation failed")

	// ErrTimeout is returned when the task does not finish in time.
	ErrTimeout = errors.New("3d generation timed out")
)

// Task statuses as reported by the service, compared case-insensitively.
const (
	StatusPending   = "pending"
	StatusRunning   = "in_progress"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client talks to the image-to-3D service.
type Client struct {
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// New creates a Client from config.
func New(cfg config.ModelingConfig) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: poll,
		timeout:      timeout,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type createRequest struct {
	ImageURL string `json:"image_url"`
}

// envelope wraps every response body. Result is either a bare task ID or an
// object, depending on the call and service version.
type envelope struct {
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message,omitempty"`
}

type createResult struct {
	TaskID string `json:"task_id"`
}

// Task is a snapshot of a generation task.
type Task struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Progress int               `json:"progress"`
	Outputs  map[string]string `json:"outputs"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"task_error,omitempty"`
}

// GLB returns the URL of the binary glTF output, if any.
func (t *Task) GLB() string {
	return t.Outputs["glb"]
}

// Generate creates a task for imageURL and blocks until it finishes. It
// returns the GLB URL of the finished model.
func (c *Client) Generate(ctx context.Context, imageURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "generate 3d model", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if imageURL == "" {
		return "", fmt.Errorf("image url is required")
	}

	taskID, err := c.create(ctx, imageURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("task.id", taskID))
	slog.Info("3d generation task created", "task_id", taskID)

	glb, err := c.wait(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	slog.Info("3d generation finished", "task_id", taskID, "glb_url", glb)
	return glb, nil
}

func (c *Client) create(ctx context.Context, imageURL string) (string, error) {
	body, err := json.Marshal(createRequest{ImageURL: imageURL})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/openapi/v1/image-to-3d", body, &env); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	var id string
	if err := json.Unmarshal(env.Result, &id); err == nil && id != "" {
		return id, nil
	}
	var res createResult
	if err := json.Unmarshal(env.Result, &res); err == nil && res.TaskID != "" {
		return res.TaskID, nil
	}
	if env.Message != "" {
		return "", fmt.Errorf("creating task: %s", env.Message)
	}
	return "", fmt.Errorf("creating task: response has no task id")
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID string) (*Task, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/openapi/v1/tasks/"+taskID, nil, &env); err != nil {
		return nil, fmt.Errorf("polling task: %w", err)
	}
	var t Task
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("polling task: response has no result")
	}
	if err := json.Unmarshal(env.Result, &t); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	if t.ID == "" {
		t.ID = taskID
	}
	return &t, nil
}

func (c *Client) wait(ctx context.Context, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return "", c.stopErr(ctx)
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", c.stopErr(ctx)
		case <-timer.C:
		}

		task, err := c.Status(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", c.stopErr(ctx)
			}
			slog.Warn("3d task poll failed, retrying", "task_id", taskID, "error", err)
			continue
		}

		slog.Debug("3d task status", "task_id", taskID, "status", task.Status, "progress", task.Progress)
		switch strings.ToLower(task.Status) {
		case StatusSucceeded:
			if task.GLB() == "" {
				return "", fmt.Errorf("task %s succeeded without a glb output", taskID)
			}
			return task.GLB(), nil
		case StatusFailed:
			if task.Error != nil && task.Error.Message != "" {
				return "", fmt.Errorf("%w: %s", ErrTaskFailed, task.Error.Message)
			}
			return "", ErrTaskFailed
		}
	}
}

// stopErr maps the end of the polling context to a package error.
func (c *Client) stopErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

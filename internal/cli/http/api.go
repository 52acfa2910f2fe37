package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"coderun/internal/runner/model"
	pkgerrors "coderun/pkg/errors"
)

// APIError is a non-success envelope returned by the api.
type APIError struct {
	StatusCode int
	Code       pkgerrors.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// SubmitResult acknowledges a submission.
type SubmitResult struct {
	TaskID string       `json:"task_id"`
	Status model.Status `json:"status"`
}

// Submit posts a task.
func (c *Client) Submit(ctx context.Context, language, code, input string) (SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"language": language, "code": code, "input": input})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshal submit request failed: %w", err)
	}
	var out SubmitResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/tasks", body, &out); err != nil {
		return SubmitResult{}, err
	}
	return out, nil
}

// Poll fetches the current view of a task.
func (c *Client) Poll(ctx context.Context, taskID string) (model.TaskView, error) {
	var view model.TaskView
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &view); err != nil {
		return model.TaskView{}, err
	}
	return view, nil
}

// Languages lists the languages the api accepts.
func (c *Client) Languages(ctx context.Context) ([]string, error) {
	var out struct {
		Languages []string `json:"languages"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/languages", nil, &out); err != nil {
		return nil, err
	}
	return out.Languages, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	resp, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode response failed (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Code != pkgerrors.Success || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/recotune/recotune/internal/models"
)

const defaultTimeout = 30 * time.Second

// Recotune is a client of the recotune REST API.
type Recotune interface {
	SubmitJob(ctx context.Context, definition []byte) (*models.TuningJob, error)
	GetJob(ctx context.Context, id uint64) (*models.TuningJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TuningJob, error)
}

// Client returns a client for the API served at server, e.g.
// "http://localhost:8080".
func Client(server string) Recotune {
	return &client{
		server: strings.TrimSuffix(server, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
	}
}

type client struct {
	server string
	http   *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recotune api: %d %s", e.Code, e.Message)
}

func (c *client) SubmitJob(ctx context.Context, definition []byte) (*models.TuningJob, error) {
	job := &models.TuningJob{}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", "application/yaml", bytes.NewReader(definition), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *client) GetJob(ctx context.Context, id uint64) (*models.TuningJob, error) {
	job := &models.TuningJob{}
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+strconv.FormatUint(id, 10), "", nil, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *client) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.TuningJob, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	jobs := []*models.TuningJob{}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{Code: resp.StatusCode, Message: message(buf)}
	}

	return json.Unmarshal(buf, out)
}

// message extracts echo's {"message": ...} error body when present.
func message(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

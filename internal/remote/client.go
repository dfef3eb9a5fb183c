// Package remote implements the sandbox worker RPC client.
//
// The worker exposes a small JSON-over-HTTP surface: batched file
// writes, batched path deletes, a health probe, and command
// execution. Deleting an absent path succeeds and writing the same
// file twice is an overwrite, so retried batches are harmless.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout applies to each write, delete, and exec call.
	DefaultTimeout = 30 * time.Second

	// pingTimeout keeps the availability probe cheap.
	pingTimeout = 5 * time.Second
)

// Handle identifies a destination sandbox worker.
type Handle struct {
	WorkerURL string
	Token     string
}

// FileUpload is one file in a write request.
type FileUpload struct {
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath"`
	Content         string `json:"content"` // base64-encoded bytes
	Mode            string `json:"mode"`    // octal string, e.g. "0644"
}

type writeRequest struct {
	Files []FileUpload `json:"files"`
}

type deleteRequest struct {
	DeletePaths []string `json:"deletePaths"`
}

type execRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// ExecResult is the outcome of a command run in the sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client talks to one sandbox worker.
type Client struct {
	handle     Handle
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a client bound to the given worker.
func New(h Handle) *Client {
	return &Client{
		handle:     h,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
}

// Handle returns the destination this client is bound to.
func (c *Client) Handle() Handle {
	return c.handle
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body any,
	timeout time.Duration,
) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, method, c.handle.WorkerURL+path, reqBody,
	)
	if err != nil {
		return nil, err
	}
	if c.handle.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.handle.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf(
			"worker error (%d): %s",
			resp.StatusCode, errorText(respBody),
		)
	}
	return respBody, nil
}

// errorText pulls the worker's error field out of a response body,
// falling back to the raw body for non-JSON errors.
func errorText(body []byte) string {
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return msg.String()
	}
	return string(body)
}

// Ping reports whether the worker is reachable and ready to accept
// file operations.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, pingTimeout)
	if err != nil {
		return fmt.Errorf("worker not ready: %w", err)
	}
	return nil
}

// WriteFiles uploads one batch of files.
func (c *Client) WriteFiles(
	ctx context.Context, files []FileUpload,
) error {
	_, err := c.do(
		ctx, http.MethodPost, "/fs/write",
		writeRequest{Files: files}, c.timeout,
	)
	return err
}

// DeletePaths removes the given destination paths. The worker treats
// deletion of an already-absent path as success.
func (c *Client) DeletePaths(
	ctx context.Context, paths []string,
) error {
	_, err := c.do(
		ctx, http.MethodPost, "/fs/delete",
		deleteRequest{DeletePaths: paths}, c.timeout,
	)
	return err
}

// Exec runs a shell command in the sandbox and returns its output.
// timeoutSecs bounds the command on the worker side; the HTTP call is
// given some headroom beyond it.
func (c *Client) Exec(
	ctx context.Context, command string, timeoutSecs int,
) (*ExecResult, error) {
	callTimeout := c.timeout
	if timeoutSecs > 0 {
		callTimeout = time.Duration(timeoutSecs+30) * time.Second
		if callTimeout < c.timeout {
			callTimeout = c.timeout
		}
	}

	body, err := c.do(
		ctx, http.MethodPost, "/exec",
		execRequest{Command: command, Timeout: timeoutSecs},
		callTimeout,
	)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	return &ExecResult{
		Stdout:   res.Get("stdout").String(),
		Stderr:   res.Get("stderr").String(),
		ExitCode: int(res.Get("exitCode").Int()),
	}, nil
}

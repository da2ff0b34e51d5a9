// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controlplane is the HTTP client of the remote component runtime.
package controlplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

const (
	// DefaultTimeout bounds one control plane request.
	DefaultTimeout = 30 * time.Second

	// DefaultRFType is used when a start step names no RF front end.
	DefaultRFType = "b200"

	// DefaultImagesDir is where UHD firmware images live on the runtime host.
	DefaultImagesDir = "/usr/share/uhd/images"

	maxBodyBytes = 4 << 20
)

var (
	// ErrNotFound is returned for a 404 on stop, logs or health.
	ErrNotFound = errors.New("component not found")

	// ErrUnsupportedEndpoint is returned by Call for start steps and
	// unknown endpoints.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
)

// =============================================================================
// TYPES
// =============================================================================

// Config locates and authenticates the control plane.
type Config struct {
	BaseURL            string        `yaml:"base_url" validate:"required,url"`
	Token              string        `yaml:"token"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// StatusError is a non-2xx answer from an endpoint other than start.
type StatusError struct {
	Endpoint   rfplan.Endpoint
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("control plane %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Is matches ErrNotFound for 404 answers.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// LogLine is one entry of a component log.
type LogLine struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

// Health is the /health answer.
type Health struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
}

// Running is one /list entry.
type Running struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ConfigFile  string `json:"config_file"`
	Permissions string `json:"permissions"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks JSON over HTTPS to the control plane with a bearer token.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *memguard.Enclave
	logger     *slog.Logger
}

// NewClient builds a client. The token is sealed in an encrypted enclave and
// only decrypted while a request is being built.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("control plane base url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // lab controllers use self-signed certs
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:     logger,
	}
	if cfg.Token != "" {
		c.token = memguard.NewEnclave([]byte(cfg.Token))
	}
	return c, nil
}

// DefaultRF returns a copy of rf with the runtime defaults applied: a
// missing type becomes b200 with the UHD images directory.
func DefaultRF(rf map[string]any) map[string]any {
	out := make(map[string]any, len(rf)+2)
	for k, v := range rf {
		out[k] = v
	}
	if t, ok := out["type"].(string); !ok || t == "" {
		out["type"] = DefaultRFType
		if _, ok := out["images_dir"]; !ok {
			out["images_dir"] = DefaultImagesDir
		}
	}
	return out
}

// Start launches a component.
//
// Outputs:
//
//	error - *rfplan.ControllerRejection for any non-2xx answer, carrying
//	the controller's error text verbatim. Transport failures are returned
//	wrapped.
func (c *Client) Start(ctx context.Context, req rfplan.StartRequest) error {
	req.RF = DefaultRF(req.RF)
	status, body, err := c.do(ctx, http.MethodPost, rfplan.EndpointStart, req)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return &rfplan.ControllerRejection{StatusCode: status, Message: errorText(status, body)}
	}
	c.logger.Debug("component start accepted", "id", req.ID, "type", req.Type)
	return nil
}

// Stop stops a running component.
func (c *Client) Stop(ctx context.Context, id string) error {
	_, err := c.expectOK(ctx, http.MethodPost, rfplan.EndpointStop, map[string]string{"id": id})
	return err
}

// Logs returns the log lines of a component.
func (c *Client) Logs(ctx context.Context, id string, componentType rfplan.ComponentType) ([]LogLine, error) {
	body, err := c.expectOK(ctx, http.MethodPost, rfplan.EndpointLogs, map[string]string{"id": id, "type": string(componentType)})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Logs []LogLine `json:"logs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return resp.Logs, nil
}

// Health probes one component.
func (c *Client) Health(ctx context.Context, id string) (Health, error) {
	var h Health
	body, err := c.expectOK(ctx, http.MethodPost, rfplan.EndpointHealth, map[string]string{"id": id})
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// List enumerates running components.
func (c *Client) List(ctx context.Context) ([]Running, error) {
	body, err := c.expectOK(ctx, http.MethodGet, rfplan.EndpointList, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Running []Running `json:"running"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return resp.Running, nil
}

// Call forwards a non-start plan step and returns the raw answer.
func (c *Client) Call(ctx context.Context, step rfplan.PlanStep) (json.RawMessage, error) {
	switch step.Endpoint {
	case rfplan.EndpointStop, rfplan.EndpointHealth:
		return c.expectOK(ctx, http.MethodPost, step.Endpoint, map[string]string{"id": step.ID})
	case rfplan.EndpointLogs:
		return c.expectOK(ctx, http.MethodPost, step.Endpoint, map[string]string{"id": step.ID, "type": string(step.Type)})
	case rfplan.EndpointList:
		return c.expectOK(ctx, http.MethodGet, step.Endpoint, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, step.Endpoint)
	}
}

func (c *Client) expectOK(ctx context.Context, method string, ep rfplan.Endpoint, payload any) (json.RawMessage, error) {
	status, body, err := c.do(ctx, method, ep, payload)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, &StatusError{Endpoint: ep, StatusCode: status, Message: errorText(status, body)}
	}
	return json.RawMessage(body), nil
}

// do sends one request and returns the status and body.
func (c *Client) do(ctx context.Context, method string, ep rfplan.Endpoint, payload any) (int, []byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "controlplane."+string(ep),
		attribute.String("http.method", method))
	defer span.End()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s request: %w", ep, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+string(ep), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", ep, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req); err != nil {
		return 0, nil, err
	}
	telemetry.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, nil, fmt.Errorf("control plane %s: %w", ep, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", ep, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, body, nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.token == nil {
		return nil
	}
	buf, err := c.token.Open()
	if err != nil {
		return fmt.Errorf("open control token: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

// errorText pulls the {error} field out of a failure body, falling back to
// the raw body and then the status text.
func errorText(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

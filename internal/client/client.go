// Package client talks to a running ensemble server over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ensemble/internal/instance"
	"ensemble/internal/role"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Client is safe for concurrent use.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
}

func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token}
}

func (c *Client) Roles(ctx context.Context) ([]role.Role, error) {
	var roles []role.Role
	err := c.do(ctx, http.MethodGet, "/api/roles", nil, http.StatusOK, &roles)
	return roles, err
}

func (c *Client) Instances(ctx context.Context) ([]instance.Instance, error) {
	var records []instance.Instance
	err := c.do(ctx, http.MethodGet, "/api/instances", nil, http.StatusOK, &records)
	return records, err
}

func (c *Client) CreateInstance(ctx context.Context, roleID string) (instance.Instance, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return instance.Instance{}, errors.New("role is required")
	}
	var record instance.Instance
	err := c.do(ctx, http.MethodPost, "/api/instances", map[string]string{"role": roleID}, http.StatusCreated, &record)
	return record, err
}

func (c *Client) CreateTeam(ctx context.Context, templateID string) ([]instance.Instance, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return nil, errors.New("team template is required")
	}
	var records []instance.Instance
	err := c.do(ctx, http.MethodPost, "/api/teams/"+url.PathEscape(templateID)+"/instances", nil, http.StatusCreated, &records)
	return records, err
}

func (c *Client) Terminate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("instance id is required")
	}
	return c.do(ctx, http.MethodDelete, "/api/instances/"+url.PathEscape(id), nil, http.StatusAccepted, nil)
}

func (c *Client) TerminateAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/instances", nil, http.StatusAccepted, nil)
}

func (c *Client) SendMessage(ctx context.Context, id, text string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("instance id is required")
	}
	return c.do(ctx, http.MethodPost, "/api/instances/"+url.PathEscape(id)+"/messages", map[string]string{"text": text}, http.StatusAccepted, nil)
}

func (c *Client) Confirm(ctx context.Context, id, key string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("instance id is required")
	}
	return c.do(ctx, http.MethodPost, "/api/instances/"+url.PathEscape(id)+"/confirm", map[string]string{"key": key}, http.StatusAccepted, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, want int, out any) error {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	addToken(request, c.Token)

	response, err := ensureClient(c.HTTP).Do(request)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != want {
		return readError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readError(response *http.Response) *HTTPError {
	httpErr := &HTTPError{StatusCode: response.StatusCode, Message: response.Status}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return httpErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		httpErr.Message = payload.Error
		httpErr.Code = payload.Code
		return httpErr
	}
	httpErr.Message = text
	return httpErr
}

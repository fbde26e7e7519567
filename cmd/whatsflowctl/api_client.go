package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

type QRAnswer struct {
	InstanceID string  `json:"instanceId"`
	QR         *string `json:"qr"`
	Connected  bool    `json:"connected"`
	ExpiresIn  int     `json:"expiresIn"`
}

// APIClient talks to a WhatsFlow server.
type APIClient struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends the request and returns the raw JSON body of a 2xx answer.
func (c *APIClient) do(method, path string, payload interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}
	return raw, nil
}

func (c *APIClient) Health() (json.RawMessage, error) {
	return c.do(http.MethodGet, "/health", nil)
}

// Status returns one instance, or every instance when id is empty.
func (c *APIClient) Status(instanceID string) (json.RawMessage, error) {
	if instanceID == "" {
		return c.do(http.MethodGet, "/status", nil)
	}
	return c.do(http.MethodGet, "/status/"+url.PathEscape(instanceID), nil)
}

func (c *APIClient) Instances() (json.RawMessage, error) {
	return c.do(http.MethodGet, "/instances", nil)
}

func (c *APIClient) Create(name, instanceID string) (json.RawMessage, error) {
	return c.do(http.MethodPost, "/instances", map[string]string{
		"name":       name,
		"instanceId": instanceID,
	})
}

func (c *APIClient) Connect(instanceID string) (json.RawMessage, error) {
	return c.do(http.MethodPost, "/connect/"+url.PathEscape(instanceID), nil)
}

func (c *APIClient) Disconnect(instanceID string, logout bool) (json.RawMessage, error) {
	path := "/disconnect/" + url.PathEscape(instanceID)
	if logout {
		path += "?logout=true"
	}
	return c.do(http.MethodPost, path, nil)
}

func (c *APIClient) Delete(instanceID string) (json.RawMessage, error) {
	return c.do(http.MethodDelete, "/instances/"+url.PathEscape(instanceID), nil)
}

func (c *APIClient) QR(instanceID string) (*QRAnswer, error) {
	raw, err := c.do(http.MethodGet, "/qr/"+url.PathEscape(instanceID), nil)
	if err != nil {
		return nil, err
	}
	var answer QRAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *APIClient) Send(instanceID, to, message string) (json.RawMessage, error) {
	return c.do(http.MethodPost, "/send/"+url.PathEscape(instanceID), map[string]string{
		"to":      to,
		"message": message,
		"type":    "text",
	})
}

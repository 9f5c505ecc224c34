package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"pigeon/internal/models"
)

// HTTPClient implements API against a running pigeon server. The token must
// come from a prior login; the connection/auth layer is not this package's
// concern.
type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

var _ API = (*HTTPClient)(nil)

func (c *HTTPClient) Messages(ctx context.Context, peerID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+peerID, nil, &msgs)
	return msgs, err
}

func (c *HTTPClient) Send(ctx context.Context, peerID, text, image string) (models.Message, error) {
	var msg models.Message
	body := map[string]string{"text": text, "image": image}
	err := c.do(ctx, http.MethodPost, "/api/messages/send/"+peerID, body, &msg)
	return msg, err
}

func (c *HTTPClient) Edit(ctx context.Context, messageID, text string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPut, "/api/messages/"+messageID, map[string]string{"text": text}, &msg)
	return msg, err
}

func (c *HTTPClient) Delete(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+messageID, nil, nil)
}

func (c *HTTPClient) React(ctx context.Context, messageID, emoji string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := c.do(ctx, http.MethodPost, "/api/messages/"+messageID+"/react", map[string]string{"emoji": emoji}, &reactions)
	return reactions, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("token", c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

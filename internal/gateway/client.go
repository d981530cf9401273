// Package gateway talks to the WhatsApp HTTP gateway: a REST client for
// sending messages and a websocket listener for receiving events.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/store"
)

// Client sends messages through the gateway REST API. Requests authenticate
// with basic auth and select the WhatsApp account with the X-Device-Id header.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Send routes one outbound message to the endpoint matching its content type.
// It implements workers.Messenger.
func (c *Client) Send(ctx context.Context, deviceID uuid.UUID, phone, content, contentType, mediaURL string) error {
	switch contentType {
	case "", store.ContentTypeText:
		return c.SendMessage(ctx, deviceID, phone, content)
	case store.ContentTypeImage:
		return c.SendImage(ctx, deviceID, phone, mediaURL, content)
	case store.ContentTypeVideo:
		return c.SendVideo(ctx, deviceID, phone, mediaURL, content)
	case store.ContentTypeAudio:
		return c.SendAudio(ctx, deviceID, phone, mediaURL)
	case store.ContentTypeDocument:
		return c.SendDocument(ctx, deviceID, phone, mediaURL, content)
	default:
		return fmt.Errorf("unsupported content type %q", contentType)
	}
}

func (c *Client) SendMessage(ctx context.Context, deviceID uuid.UUID, phone, message string) error {
	return c.post(ctx, deviceID, "/send/message", map[string]string{
		"phone":   phone,
		"message": message,
	})
}

func (c *Client) SendImage(ctx context.Context, deviceID uuid.UUID, phone, imageURL, caption string) error {
	return c.post(ctx, deviceID, "/send/image", map[string]string{
		"phone":     phone,
		"image_url": imageURL,
		"caption":   caption,
	})
}

func (c *Client) SendVideo(ctx context.Context, deviceID uuid.UUID, phone, videoURL, caption string) error {
	return c.post(ctx, deviceID, "/send/video", map[string]string{
		"phone":     phone,
		"video_url": videoURL,
		"caption":   caption,
	})
}

func (c *Client) SendAudio(ctx context.Context, deviceID uuid.UUID, phone, audioURL string) error {
	return c.post(ctx, deviceID, "/send/audio", map[string]string{
		"phone":     phone,
		"audio_url": audioURL,
	})
}

func (c *Client) SendDocument(ctx context.Context, deviceID uuid.UUID, phone, documentURL, caption string) error {
	return c.post(ctx, deviceID, "/send/document", map[string]string{
		"phone":        phone,
		"document_url": documentURL,
		"caption":      caption,
	})
}

func (c *Client) post(ctx context.Context, deviceID uuid.UUID, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", deviceID.String())
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode, body)
	}
	return nil
}

// Package store is the REST client for the external data service that owns
// durable rooms and messages. The relay never persists anything itself.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ core.MessageStore = (*Client)(nil)

type roomResponse struct {
	RoomID domain.RoomID `json:"room_id"`
}

func (c *Client) GetOrCreateRoom(ctx context.Context, a, b domain.UserID) (domain.RoomID, error) {
	body := map[string]domain.UserID{"user1": a, "user2": b}
	var resp roomResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms", body, &resp); err != nil {
		return "", fmt.Errorf("get or create room: %w", err)
	}
	return resp.RoomID, nil
}

func (c *Client) CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	var resp domain.Message
	path := fmt.Sprintf("/api/chat/rooms/%s/messages", url.PathEscape(string(m.RoomID)))
	if err := c.do(ctx, http.MethodPost, path, m, &resp); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &resp, nil
}

func (c *Client) ListMessages(ctx context.Context, room domain.RoomID, page, pageSize int) (*core.MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	path := fmt.Sprintf("/api/chat/rooms/%s/messages?%s", url.PathEscape(string(room)), q.Encode())
	var resp core.MessagePage
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &resp, nil
}

func (c *Client) MarkRead(ctx context.Context, room domain.RoomID, userID domain.UserID) error {
	body := map[string]domain.UserID{"user_id": userID}
	path := fmt.Sprintf("/api/chat/rooms/%s/read", url.PathEscape(string(room)))
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glata-console/internal/transcript"
	"glata-console/internal/utils"
)

const defaultTimeout = 15 * time.Second

// Client talks to the dashboard REST API the console depends on: chat
// creation and paginated message history. Streaming happens on the chat
// socket, never here.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config carries the REST endpoint settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient builds a client for the given endpoint. The token, when set,
// rides along as a bearer header on every request.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: utils.NewBearerClient(timeout, cfg.Token),
	}
}

// Chat is the record the chat endpoints return.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChatRequest names the new chat. Title may be empty; the server
// derives one.
type CreateChatRequest struct {
	Title string `json:"title,omitempty"`
}

// CreateChat registers a new chat and returns its record. A chat must exist
// before any frame referencing it goes out on the socket.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (*Chat, error) {
	var chat Chat
	if err := c.doRequest(ctx, http.MethodPost, "/api/chats", req, &chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &chat, nil
}

// History fetches one page of a chat's messages. Pages start at 1 and run
// newest first, matching the dashboard's scrollback loading.
func (c *Client) History(ctx context.Context, chatID string, page, pageSize int) ([]transcript.HistoryRecord, error) {
	path := fmt.Sprintf("/api/chats/%s/messages?page=%d&page_size=%d",
		url.PathEscape(chatID), page, pageSize)
	var out struct {
		Messages []transcript.HistoryRecord `json:"messages"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return out.Messages, nil
}

// doRequest performs one JSON round trip against the API.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

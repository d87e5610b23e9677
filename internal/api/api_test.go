package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCreateChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chats" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("authorization = %q", got)
		}
		var req CreateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "chat-42", "title": req.Title})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", Token: "sekrit", Timeout: time.Second})
	chat, err := client.CreateChat(context.Background(), CreateChatRequest{Title: "demo"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID != "chat-42" || chat.Title != "demo" {
		t.Errorf("chat = %+v", chat)
	}
}

func TestHistoryPagingAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/chat-7/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "10" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"chat_id": "chat-7",
			"page": 2,
			"messages": [
				{"role": "assistant", "content": "later"},
				{"role": "tool", "content": "{}", "parsedContent": {"type": "tool_result", "toolName": "lookup"}},
				{"role": "user", "content": "earlier"}
			]
		}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	records, err := client.History(context.Background(), "chat-7", 2, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Role != "assistant" || records[0].Content != "later" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Parsed == nil || records[1].Parsed.ToolName != "lookup" {
		t.Errorf("record 1 parsed = %+v", records[1].Parsed)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "chat not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := client.History(context.Background(), "nope", 1, 50)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "HTTP 404") || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v", err)
	}
}

func TestNoTokenMeansNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("authorization = %q, want empty", got)
		}
		w.Write([]byte(`{"messages": []}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if _, err := client.History(context.Background(), "c", 1, 50); err != nil {
		t.Fatalf("History: %v", err)
	}
}

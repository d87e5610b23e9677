package storage

import (
	"time"

	"glata-console/internal/transcript"
)

// Chat is one persisted conversation. GetChat returns it with Messages
// populated; ListChats returns metadata only.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one persisted transcript message. Parsed carries the structured
// form of tool traffic, in the shape the history endpoint serves.
type Message struct {
	ID        string                    `json:"id"`
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	Parsed    *transcript.ParsedContent `json:"parsedContent,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// cloneChat copies the chat and its message slice. Parsed values are shared;
// they are never mutated after storage.
func cloneChat(c *Chat) *Chat {
	cp := *c
	if c.Messages != nil {
		cp.Messages = make([]Message, len(c.Messages))
		copy(cp.Messages, c.Messages)
	}
	return &cp
}

func chatMeta(c *Chat) *Chat {
	cp := *c
	cp.Messages = nil
	return &cp
}

package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStorage holds chats in a map. Values are copied on the way in and
// out, so callers cannot mutate stored state through returned pointers.
type MemoryStorage struct {
	chats map[string]*Chat
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats: make(map[string]*Chat),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) CreateChat(chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chats[chat.ID] = cloneChat(chat)
	return nil
}

func (m *MemoryStorage) GetChat(chatID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return nil, ErrChatNotFound
	}

	return cloneChat(chat), nil
}

func (m *MemoryStorage) UpdateChat(chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.chats[chat.ID]
	if !exists {
		return ErrChatNotFound
	}

	stored.Title = chat.Title
	stored.UpdatedAt = chat.UpdatedAt
	return nil
}

func (m *MemoryStorage) DeleteChat(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chats[chatID]; !exists {
		return ErrChatNotFound
	}

	delete(m.chats, chatID)
	return nil
}

// ListChats returns chat metadata, most recently updated first.
func (m *MemoryStorage) ListChats() ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*Chat, 0, len(m.chats))
	for _, chat := range m.chats {
		chats = append(chats, chatMeta(chat))
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	return chats, nil
}

func (m *MemoryStorage) AppendMessage(chatID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return ErrChatNotFound
	}

	chat.Messages = append(chat.Messages, *msg)
	chat.UpdatedAt = time.Now()
	return nil
}

// Messages returns the chat's messages in append order.
func (m *MemoryStorage) Messages(chatID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return nil, ErrChatNotFound
	}

	messages := make([]*Message, len(chat.Messages))
	for i := range chat.Messages {
		cp := chat.Messages[i]
		messages[i] = &cp
	}

	return messages, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"glata-console/pkg/logger"
)

// DiskStorage keeps every chat in memory and writes each mutation through to
// one JSON file per chat under dataDir/chats. Files are written to a temp
// path and renamed into place, so a crash never leaves a half-written chat.
type DiskStorage struct {
	dataDir string
	mu      sync.RWMutex
	chats   map[string]*Chat
}

func NewDiskStorage(dataDir string) *DiskStorage {
	return &DiskStorage{
		dataDir: dataDir,
		chats:   make(map[string]*Chat),
	}
}

func (d *DiskStorage) Init() error {
	if err := os.MkdirAll(d.chatsDir(), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadChats(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized: %d chats in %s", len(d.chats), d.dataDir)
	return nil
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.chats = make(map[string]*Chat)
	return nil
}

func (d *DiskStorage) chatsDir() string {
	return filepath.Join(d.dataDir, "chats")
}

func (d *DiskStorage) chatPath(chatID string) string {
	return filepath.Join(d.chatsDir(), chatID+".json")
}

func (d *DiskStorage) loadChats() error {
	files, err := os.ReadDir(d.chatsDir())
	if err != nil {
		return err
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(d.chatsDir(), file.Name()))
		if err != nil {
			logger.Errorf("Failed to read chat file %s: %v", file.Name(), err)
			continue
		}

		var chat Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			logger.Errorf("Failed to parse chat file %s: %v", file.Name(), err)
			continue
		}

		d.chats[chat.ID] = &chat
	}

	return nil
}

// saveChat writes the chat file atomically. Callers hold the write lock.
func (d *DiskStorage) saveChat(chat *Chat) error {
	path := d.chatPath(chat.ID)
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStorage) CreateChat(chat *Chat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := cloneChat(chat)
	if err := d.saveChat(cp); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.chats[chat.ID] = cp
	return nil
}

func (d *DiskStorage) GetChat(chatID string) (*Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chat, exists := d.chats[chatID]
	if !exists {
		return nil, ErrChatNotFound
	}

	return cloneChat(chat), nil
}

func (d *DiskStorage) UpdateChat(chat *Chat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, exists := d.chats[chat.ID]
	if !exists {
		return ErrChatNotFound
	}

	stored.Title = chat.Title
	stored.UpdatedAt = chat.UpdatedAt

	if err := d.saveChat(stored); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStorage) DeleteChat(chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.chats[chatID]; !exists {
		return ErrChatNotFound
	}

	if err := os.Remove(d.chatPath(chatID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.chats, chatID)
	return nil
}

// ListChats returns chat metadata, most recently updated first.
func (d *DiskStorage) ListChats() ([]*Chat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chats := make([]*Chat, 0, len(d.chats))
	for _, chat := range d.chats {
		chats = append(chats, chatMeta(chat))
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	return chats, nil
}

func (d *DiskStorage) AppendMessage(chatID string, msg *Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	chat, exists := d.chats[chatID]
	if !exists {
		return ErrChatNotFound
	}

	chat.Messages = append(chat.Messages, *msg)
	chat.UpdatedAt = time.Now()

	if err := d.saveChat(chat); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

// Messages returns the chat's messages in append order.
func (d *DiskStorage) Messages(chatID string) ([]*Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chat, exists := d.chats[chatID]
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

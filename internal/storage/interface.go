package storage

// Storage persists devserver chats. Implementations are safe for concurrent
// use and return the package sentinels for expected failures.
type Storage interface {
	// Chat management.
	CreateChat(chat *Chat) error
	GetChat(chatID string) (*Chat, error)
	// UpdateChat replaces stored metadata (title, timestamps). Messages are
	// managed through AppendMessage only.
	UpdateChat(chat *Chat) error
	DeleteChat(chatID string) error
	ListChats() ([]*Chat, error)

	// Message management.
	AppendMessage(chatID string, msg *Message) error
	Messages(chatID string) ([]*Message, error)

	// Lifecycle.
	Init() error
	Close() error
}

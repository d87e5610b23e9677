package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"glata-console/internal/config"
	"glata-console/internal/protocol"
	"glata-console/internal/storage"
	"glata-console/internal/transcript"
	"glata-console/pkg/logger"
)

const defaultTitlePrefix = "New chat"

// SendFunc pushes one frame to the connected client.
type SendFunc func(frame protocol.ServerFrame) error

// Replier produces the server side of one turn: it emits wire frames through
// send and returns the messages to persist, in emission order.
type Replier interface {
	Reply(ctx context.Context, turn *protocol.Outbound, send SendFunc) ([]storage.Message, error)
}

// Server is the development stand-in for the agent gateway: the chat socket,
// the chat REST endpoints, and a reply engine behind them.
type Server struct {
	cfg      config.DevServerConfig
	token    string
	store    storage.Storage
	replier  Replier
	upgrader websocket.Upgrader
}

// New picks the reply engine from config. Mode "script" forces the built-in
// script even when an API key is in the environment, "openai" forces the
// upstream relay, and "auto" relays only when a key is configured.
func New(cfg *config.Config, store storage.Storage) *Server {
	var replier Replier
	if useBridge(cfg.DevServer) {
		replier = NewBridge(cfg.DevServer.OpenAI)
		logger.Infof("devserver: relaying turns to %s", cfg.DevServer.OpenAI.Model)
	} else {
		replier = NewScriptEngine(cfg.DevServer.StreamDelay)
		logger.Info("devserver: using scripted replies")
	}

	return &Server{
		cfg:     cfg.DevServer,
		token:   cfg.Gateway.Token,
		store:   store,
		replier: replier,
		upgrader: websocket.Upgrader{
			// Local development tool; browser dashboards connect from
			// arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func useBridge(cfg config.DevServerConfig) bool {
	switch cfg.Mode {
	case "script":
		return false
	case "openai":
		return true
	default:
		return cfg.OpenAI.APIKey != ""
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/chats", s.createChat)
		api.GET("/chats", s.listChats)
		api.GET("/chats/:chat_id/messages", s.chatMessages)
		api.DELETE("/chats/:chat_id", s.deleteChat)
	}

	router.GET("/ws/chat/", s.handleSocket)

	return router
}

func (s *Server) corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = s.cfg.CORS.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	if len(s.cfg.CORS.AllowedMethods) > 0 {
		corsCfg.AllowMethods = s.cfg.CORS.AllowedMethods
	}
	if len(s.cfg.CORS.AllowedHeaders) > 0 {
		corsCfg.AllowHeaders = s.cfg.CORS.AllowedHeaders
	}
	if len(s.cfg.CORS.ExposedHeaders) > 0 {
		corsCfg.ExposeHeaders = s.cfg.CORS.ExposedHeaders
	}
	corsCfg.AllowCredentials = s.cfg.CORS.AllowCredentials
	if s.cfg.CORS.MaxAge > 0 {
		corsCfg.MaxAge = time.Duration(s.cfg.CORS.MaxAge) * time.Second
	}
	return corsCfg
}

// handleSocket owns one client connection: token check, upgrade, then a read
// loop that treats every inbound frame as a turn. Turns run sequentially, so
// the connection has a single frame writer.
func (s *Server) handleSocket(c *gin.Context) {
	if s.token != "" && c.Query("token") != s.token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("devserver: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	logger.Infof("devserver: client connected from %s", conn.RemoteAddr())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warnf("devserver: read: %v", err)
			}
			return
		}
		s.handleTurn(c.Request.Context(), conn, data)
	}
}

func (s *Server) handleTurn(ctx context.Context, conn *websocket.Conn, data []byte) {
	send := func(frame protocol.ServerFrame) error {
		return conn.WriteJSON(frame)
	}
	reject := func(msg string) {
		if err := send(protocol.NewError(msg)); err != nil {
			logger.Warnf("devserver: write error frame: %v", err)
		}
	}

	var turn protocol.Outbound
	if err := json.Unmarshal(data, &turn); err != nil {
		reject("malformed frame: " + err.Error())
		return
	}
	if turn.ChatID == "" {
		reject("missing chat_id")
		return
	}
	userText, ok := latestUserMessage(turn.Messages)
	if !ok {
		reject("turn has no user message")
		return
	}

	chat, err := s.store.GetChat(turn.ChatID)
	if err != nil {
		reject("unknown chat: " + turn.ChatID)
		return
	}

	s.persist(turn.ChatID, storage.Message{
		ID:        uuid.New().String(),
		Role:      transcript.RoleUser,
		Content:   userText,
		CreatedAt: time.Now(),
	})
	s.maybeTitle(chat, userText)

	replies, err := s.replier.Reply(ctx, &turn, send)
	for _, msg := range replies {
		s.persist(turn.ChatID, msg)
	}
	if err != nil {
		logger.Errorf("devserver: turn failed: %v", err)
		reject(err.Error())
	}
}

// maybeTitle names a fresh chat after its first user message.
func (s *Server) maybeTitle(chat *storage.Chat, text string) {
	if len(chat.Messages) > 0 || !strings.HasPrefix(chat.Title, defaultTitlePrefix) {
		return
	}
	chat.Title = truncate(text, 30)
	chat.UpdatedAt = time.Now()
	if err := s.store.UpdateChat(chat); err != nil {
		logger.Warnf("devserver: update title: %v", err)
	}
}

func (s *Server) persist(chatID string, msg storage.Message) {
	if err := s.store.AppendMessage(chatID, &msg); err != nil {
		logger.Errorf("devserver: persist message: %v", err)
	}
}

func (s *Server) createChat(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is fine; the title is derived from the first message.
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Title = ""
	}

	now := time.Now()
	if req.Title == "" {
		req.Title = defaultTitlePrefix + " " + now.Format("2006-01-02 15:04")
	}

	chat := &storage.Chat{
		ID:        uuid.New().String(),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateChat(chat); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("devserver: created chat %s", chat.ID)
	c.JSON(http.StatusOK, chat)
}

func (s *Server) listChats(c *gin.Context) {
	chats, err := s.store.ListChats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// chatMessages serves history pages, newest first: page 1 holds the most
// recent page_size messages, each page running backwards from there.
func (s *Server) chatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	msgs, err := s.store.Messages(chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	records := make([]transcript.HistoryRecord, 0, pageSize)
	offset := (page - 1) * pageSize
	for i := len(msgs) - 1 - offset; i >= 0 && len(records) < pageSize; i-- {
		records = append(records, transcript.HistoryRecord{
			Role:    msgs[i].Role,
			Content: msgs[i].Content,
			Parsed:  msgs[i].Parsed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"chat_id":  chatID,
		"messages": records,
	})
}

func (s *Server) deleteChat(c *gin.Context) {
	if err := s.store.DeleteChat(c.Param("chat_id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully"})
}

// latestUserMessage returns the newest user entry of the replayed context,
// which is the text of the current turn.
func latestUserMessage(messages []protocol.WireMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == transcript.RoleUser && messages[i].Content != "" {
			return messages[i].Content, true
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func assistantRecord(content string) storage.Message {
	return storage.Message{
		ID:        uuid.New().String(),
		Role:      transcript.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// toolCallRecord persists a call with both the wire content and its parsed
// form, so history replays render the same as the live stream did.
func toolCallRecord(name string, args any, wireContent string) storage.Message {
	return storage.Message{
		ID:      uuid.New().String(),
		Role:    transcript.RoleTool,
		Content: wireContent,
		Parsed: &transcript.ParsedContent{
			Type:      transcript.ParsedToolCall,
			Function:  name,
			Arguments: args,
		},
		CreatedAt: time.Now(),
	}
}

func toolResultRecord(name, content string) storage.Message {
	var result any
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		result = content
	}
	return storage.Message{
		ID:      uuid.New().String(),
		Role:    transcript.RoleTool,
		Content: content,
		Parsed: &transcript.ParsedContent{
			Type:     transcript.ParsedToolResult,
			ToolName: name,
			Result:   result,
		},
		CreatedAt: time.Now(),
	}
}

package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"

	"glata-console/internal/api"
	"glata-console/internal/config"
	"glata-console/internal/protocol"
	"glata-console/internal/storage"
	"glata-console/internal/transcript"
)

const testToken = "dev-secret"

func newTestServer(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Gateway.Token = testToken
	cfg.DevServer.StreamDelay = time.Millisecond

	store := storage.NewMemoryStorage()
	ts := httptest.NewServer(New(cfg, store).Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func newAPIClient(ts *httptest.Server) *api.Client {
	return api.NewClient(api.Config{BaseURL: ts.URL, Token: testToken})
}

func dialSocket(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sendTurn submits one user turn the way the console does.
func sendTurn(t *testing.T, conn *websocket.Conn, chatID, text string) {
	t.Helper()

	err := conn.WriteJSON(protocol.Outbound{
		Messages: []protocol.WireMessage{{Role: transcript.RoleUser, Content: text}},
		Stream:   true,
		ChatID:   chatID,
	})
	if err != nil {
		t.Fatalf("write turn: %v", err)
	}
}

// foldUntil consumes frames, folding each decoded event into the transcript
// exactly as the client pump does, until done reports the turn complete.
func foldUntil(t *testing.T, conn *websocket.Conn, ts []transcript.Message, done func([]transcript.Message) bool) []transcript.Message {
	t.Helper()

	for !done(ts) {
		if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
			t.Fatal(err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (transcript so far: %+v)", err, ts)
		}
		for _, ev := range protocol.Decode(data) {
			ts = transcript.Fold(ts, ev)
		}
	}
	return ts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSocketRejectsBadToken(t *testing.T) {
	ts, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/?token=wrong"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("handshake should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %+v, want 401", resp)
	}
}

func TestCreateChat(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" {
		t.Error("chat id empty")
	}
	if !strings.HasPrefix(chat.Title, defaultTitlePrefix) {
		t.Errorf("title = %q, want default prefix", chat.Title)
	}

	named, err := client.CreateChat(context.Background(), api.CreateChatRequest{Title: "release triage"})
	if err != nil {
		t.Fatal(err)
	}
	if named.Title != "release triage" {
		t.Errorf("title = %q", named.Title)
	}
}

func TestListChats(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	for _, title := range []string{"first", "second"} {
		if _, err := client.CreateChat(context.Background(), api.CreateChatRequest{Title: title}); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/chats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Chats []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"chats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Chats) != 2 {
		t.Fatalf("listed %d chats, want 2", len(body.Chats))
	}
	titles := map[string]bool{}
	for _, c := range body.Chats {
		if c.ID == "" {
			t.Errorf("chat with empty id: %+v", c)
		}
		titles[c.Title] = true
	}
	if !titles["first"] || !titles["second"] {
		t.Errorf("titles = %v", titles)
	}
}

// A one-shot turn over the real socket: a single message frame, no deltas,
// folding to user + assistant with both rows persisted.
func TestGreetingTurn(t *testing.T) {
	ts, store := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSocket(t, ts, testToken)
	sendTurn(t, conn, chat.ID, "hello")

	transcriptNow := foldUntil(t, conn, transcript.Submit(nil, "hello"), func(ms []transcript.Message) bool {
		return len(ms) == 2 && ms[1].Content == scriptGreeting
	})
	if transcriptNow[0].Role != transcript.RoleUser || transcriptNow[1].Streaming {
		t.Errorf("transcript = %+v", transcriptNow)
	}

	waitFor(t, func() bool {
		msgs, err := store.Messages(chat.ID)
		return err == nil && len(msgs) == 2
	})
	msgs, _ := store.Messages(chat.ID)
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("persisted user = %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAssistant || msgs[1].Content != scriptGreeting {
		t.Errorf("persisted assistant = %+v", msgs[1])
	}

	// First user message names the chat.
	stored, err := store.GetChat(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "hello" {
		t.Errorf("title = %q, want hello", stored.Title)
	}
}

// A delta-only turn over the real socket: fragments concatenate in the
// placeholder in arrival order.
func TestStreamedTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSocket(t, ts, testToken)
	sendTurn(t, conn, chat.ID, "what can you do")

	transcriptNow := foldUntil(t, conn, transcript.Submit(nil, "what can you do"), func(ms []transcript.Message) bool {
		return len(ms) == 2 && ms[1].Content == scriptCapabilities
	})
	// Streamed turns have no closing frame; the placeholder stays open.
	if !transcriptNow[1].Streaming {
		t.Error("placeholder should still be open after a streamed turn")
	}
}

// A tool turn over the real socket: preamble deltas, a call frame, a result
// frame, then the closing message. Call and result assemble into one group.
func TestToolTurn(t *testing.T) {
	ts, store := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSocket(t, ts, testToken)
	const ask = "look up glata"
	sendTurn(t, conn, chat.ID, ask)

	transcriptNow := foldUntil(t, conn, transcript.Submit(nil, ask), func(ms []transcript.Message) bool {
		return len(ms) == 5 && ms[4].Content == toolConclusion("lookup")
	})

	entries := transcript.Assemble(transcriptNow)
	if len(entries) != 4 {
		t.Fatalf("assembled %d entries, want 4: %+v", len(entries), entries)
	}
	group, ok := entries[2].(transcript.ToolGroup)
	if !ok {
		t.Fatalf("entry 2 = %+v, want ToolGroup", entries[2])
	}
	if group.Call.Parsed.Function != "lookup" {
		t.Errorf("function = %q", group.Call.Parsed.Function)
	}
	args, ok := group.Call.Parsed.Arguments.(map[string]any)
	if !ok || args["query"] != ask {
		t.Errorf("arguments = %#v", group.Call.Parsed.Arguments)
	}
	result, ok := group.Result.Parsed.Result.(map[string]any)
	if !ok || result["match"] != "glata" {
		t.Errorf("result = %#v", group.Result.Parsed.Result)
	}

	// user + preamble + call + result + conclusion persisted.
	waitFor(t, func() bool {
		msgs, err := store.Messages(chat.ID)
		return err == nil && len(msgs) == 5
	})
}

// A turn that dies mid-stream: deltas, then an error frame appending to the
// same partial reply.
func TestFailingTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSocket(t, ts, testToken)
	sendTurn(t, conn, chat.ID, "please fail")

	want := scriptFailurePartial + "\nError: " + scriptFailureMessage
	transcriptNow := foldUntil(t, conn, transcript.Submit(nil, "please fail"), func(ms []transcript.Message) bool {
		return len(ms) == 2 && ms[1].Content == want
	})
	if transcriptNow[1].Role != transcript.RoleAssistant {
		t.Errorf("transcript = %+v", transcriptNow)
	}
}

func TestUnknownChatTurn(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dialSocket(t, ts, testToken)
	sendTurn(t, conn, "no-such-chat", "hello")

	foldUntil(t, conn, transcript.Submit(nil, "hello"), func(ms []transcript.Message) bool {
		return len(ms) == 2 && strings.Contains(ms[1].Content, "Error: unknown chat")
	})
}

func TestHistoryPagingNewestFirst(t *testing.T) {
	ts, store := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		err := store.AppendMessage(chat.ID, &storage.Message{Role: transcript.RoleUser, Content: content})
		if err != nil {
			t.Fatal(err)
		}
	}

	page1, err := client.History(context.Background(), chat.ID, 1, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page1) != 2 || page1[0].Content != "five" || page1[1].Content != "four" {
		t.Errorf("page 1 = %+v", page1)
	}

	page3, err := client.History(context.Background(), chat.ID, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 || page3[0].Content != "one" {
		t.Errorf("page 3 = %+v", page3)
	}

	// Reversal turns a newest-first page chronological.
	loaded := transcript.LoadHistory(page1)
	if loaded[0].Content != "four" || loaded[1].Content != "five" {
		t.Errorf("loaded = %+v", loaded)
	}

	if _, err := client.History(context.Background(), "missing", 1, 10); err == nil {
		t.Error("history for unknown chat should fail")
	}
}

// A finished tool turn must replay from history with the same shape the live
// stream produced.
func TestHistoryRoundTripAfterToolTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialSocket(t, ts, testToken)
	const ask = "look up the gateway"
	sendTurn(t, conn, chat.ID, ask)

	live := foldUntil(t, conn, transcript.Submit(nil, ask), func(ms []transcript.Message) bool {
		return len(ms) == 5 && ms[4].Content == toolConclusion("lookup")
	})

	var records []transcript.HistoryRecord
	waitFor(t, func() bool {
		records, err = client.History(context.Background(), chat.ID, 1, 50)
		return err == nil && len(records) == 5
	})
	replayed := transcript.LoadHistory(records)

	for i := range live {
		if live[i].Role != replayed[i].Role || live[i].Content != replayed[i].Content {
			t.Errorf("entry %d: live = %+v, replayed = %+v", i, live[i], replayed[i])
		}
	}
	if replayed[2].Parsed == nil || replayed[2].Parsed.Function != "lookup" {
		t.Errorf("replayed call parsed = %+v", replayed[2].Parsed)
	}
	if replayed[3].Parsed == nil || replayed[3].Parsed.ToolName != "lookup" {
		t.Errorf("replayed result parsed = %+v", replayed[3].Parsed)
	}
}

func TestDeleteChat(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newAPIClient(ts)

	chat, err := client.CreateChat(context.Background(), api.CreateChatRequest{})
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/chats/"+chat.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestToolbox(t *testing.T) {
	tb := NewToolbox()
	ctx := context.Background()

	out, err := tb.Invoke(ctx, "lookup", map[string]any{"query": "what is the console"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	var hit struct {
		Match      string `json:"match"`
		Definition string `json:"definition"`
	}
	if err := json.Unmarshal([]byte(out), &hit); err != nil {
		t.Fatal(err)
	}
	if hit.Match != "console" || hit.Definition == "" {
		t.Errorf("lookup = %s", out)
	}

	out, err = tb.Invoke(ctx, "lookup", map[string]any{"query": "quantum toasters"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"match":null`) {
		t.Errorf("miss = %s", out)
	}

	if _, err := tb.Invoke(ctx, "lookup", map[string]any{}); err == nil {
		t.Error("missing query should error")
	}
	if _, err := tb.Invoke(ctx, "imaginary", nil); err == nil {
		t.Error("unknown tool should error")
	}

	out, err = tb.Invoke(ctx, "clock", map[string]any{"zone": "UTC"})
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	var clock struct {
		Time string `json:"time"`
		Zone string `json:"zone"`
	}
	if err := json.Unmarshal([]byte(out), &clock); err != nil {
		t.Fatal(err)
	}
	if clock.Zone != "UTC" {
		t.Errorf("zone = %q", clock.Zone)
	}
	if _, err := time.Parse(time.RFC3339, clock.Time); err != nil {
		t.Errorf("time %q not RFC3339: %v", clock.Time, err)
	}

	if _, err := tb.Invoke(ctx, "clock", map[string]any{"zone": "Nowhere/Invalid"}); err == nil {
		t.Error("bad zone should error")
	}
}

func TestReplyEngineSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.DevServerConfig
		want bool
	}{
		{"auto without key", config.DevServerConfig{Mode: "auto"}, false},
		{"auto with key", config.DevServerConfig{Mode: "auto", OpenAI: config.OpenAIConfig{APIKey: "k"}}, true},
		{"script overrides ambient key", config.DevServerConfig{Mode: "script", OpenAI: config.OpenAIConfig{APIKey: "k"}}, false},
		{"openai forces relay", config.DevServerConfig{Mode: "openai"}, true},
	}
	for _, tc := range cases {
		if got := useBridge(tc.cfg); got != tc.want {
			t.Errorf("%s: useBridge = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBridgeConvertContext(t *testing.T) {
	b := &Bridge{}

	got := b.convertContext([]protocol.WireMessage{
		{Role: transcript.RoleUser, Content: "question"},
		{Role: transcript.RoleAssistant, Content: ""},
		{Role: transcript.RoleAssistant, Content: "answer"},
		{Role: transcript.RoleUser, Content: "follow-up"},
	})

	roles := make([]string, len(got))
	for i, m := range got {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "user"}
	if !reflect.DeepEqual(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if got[0].Content != bridgeSystemPrompt {
		t.Errorf("system prompt = %q", got[0].Content)
	}
}

func TestMergeToolCall(t *testing.T) {
	idx0, idx1 := 0, 1

	frag := func(idx *int, id, name, args string) openai.ToolCall {
		return openai.ToolCall{
			Index:    idx,
			ID:       id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: args},
		}
	}

	merged := mergeToolCall(nil, frag(&idx0, "call_1", "lookup", `{"qu`))
	merged = mergeToolCall(merged, frag(&idx0, "", "", `ery":"x"}`))
	merged = mergeToolCall(merged, frag(&idx1, "call_2", "clock", `{}`))

	if len(merged) != 2 {
		t.Fatalf("merged %d calls, want 2", len(merged))
	}
	if merged[0].ID != "call_1" || merged[0].Function.Name != "lookup" {
		t.Errorf("call 0 = %+v", merged[0])
	}
	if merged[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("arguments = %q", merged[0].Function.Arguments)
	}
	if merged[1].ID != "call_2" || merged[1].Function.Name != "clock" {
		t.Errorf("call 1 = %+v", merged[1])
	}
}

package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessageHello(t *testing.T) {
	data := []byte(`{"type":"hello","user_id":42}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypeHello {
		t.Errorf("expected type %q, got %q", TypeHello, msgType)
	}
	hello, ok := msg.(HelloMsg)
	if !ok {
		t.Fatalf("expected HelloMsg, got %T", msg)
	}
	if hello.UserID != 42 {
		t.Errorf("expected user_id 42, got %d", hello.UserID)
	}
}

func TestParseClientMessageSendMessage(t *testing.T) {
	data := []byte(`{"type":"send_message","chat_id":7,"text":"hi"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Errorf("expected type %q, got %q", TypeSendMessage, msgType)
	}
	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChatID != 7 || sm.Text != "hi" {
		t.Errorf("unexpected payload %+v", sm)
	}
}

func TestParseClientMessageTyping(t *testing.T) {
	data := []byte(`{"type":"typing","chat_id":7,"is_typing":true}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if tm.ChatID != 7 || !tm.IsTyping {
		t.Errorf("unexpected payload %+v", tm)
	}
}

func TestParseClientMessageWatchUnwatch(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"watch_chat","chat_id":9}`))
	if err != nil {
		t.Fatalf("ParseClientMessage(watch_chat): %v", err)
	}
	if wm, ok := msg.(WatchChatMsg); !ok || wm.ChatID != 9 {
		t.Fatalf("expected WatchChatMsg{ChatID:9}, got %T %+v", msg, msg)
	}

	_, msg, err = ParseClientMessage([]byte(`{"type":"unwatch_chat","chat_id":9}`))
	if err != nil {
		t.Fatalf("ParseClientMessage(unwatch_chat): %v", err)
	}
	if um, ok := msg.(UnwatchChatMsg); !ok || um.ChatID != 9 {
		t.Fatalf("expected UnwatchChatMsg{ChatID:9}, got %T %+v", msg, msg)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypePing {
		t.Errorf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"chat_id":7}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"bogus"}`},
		{"bad payload type", `{"type":"send_message","chat_id":"seven"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.data)); err == nil {
				t.Errorf("expected error for %s", tt.data)
			}
		})
	}
}

func TestNewServerMessageSetsType(t *testing.T) {
	data, err := NewServerMessage(TypeHelloOK, HelloOKMsg{UserID: 42})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded["type"] != TypeHelloOK {
		t.Errorf("expected type %q, got %v", TypeHelloOK, decoded["type"])
	}
	if decoded["user_id"] != float64(42) {
		t.Errorf("expected user_id 42, got %v", decoded["user_id"])
	}
}

func TestNewTypingUpdateMsgWireShape(t *testing.T) {
	data, err := NewServerMessage(TypeTypingUpdate, TypingUpdateMsg{
		ChatID:  7,
		UserIDs: []int64{1, 2},
	})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var decoded struct {
		Type    string  `json:"type"`
		ChatID  int64   `json:"chat_id"`
		UserIDs []int64 `json:"user_ids"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded.Type != TypeTypingUpdate || decoded.ChatID != 7 {
		t.Errorf("unexpected wire form %+v", decoded)
	}
	if len(decoded.UserIDs) != 2 || decoded.UserIDs[0] != 1 || decoded.UserIDs[1] != 2 {
		t.Errorf("unexpected user_ids %v", decoded.UserIDs)
	}
}

func TestValidateMessageText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid short", "hello", false},
		{"valid unicode", "héllo wörld 👋", false},
		{"empty", "", true},
		{"max chars ok", strings.Repeat("a", MaxTextChars), false},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), true},
		{"too many bytes", strings.Repeat("界", MaxMessageBytes/3+1), true},
		{"invalid utf8", "abc\xff\xfe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessageText(%q): err=%v, wantErr=%v", tt.name, err, tt.wantErr)
			}
		})
	}
}

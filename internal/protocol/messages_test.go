package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","username":"alice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", jm.Username)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message (chat) message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing indicator preserves the boolean
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"typing on", `{"type":"typing","is_typing":true}`, true},
		{"typing off", `{"type":"typing","is_typing":false}`, false},
		{"field omitted", `{"type":"typing"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != TypeTyping {
				t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
			}
			tm, ok := msg.(TypingMsg)
			if !ok {
				t.Fatalf("expected TypingMsg, got %T", msg)
			}
			if tm.IsTyping != tt.want {
				t.Errorf("expected is_typing=%v, got %v", tt.want, tm.IsTyping)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a private message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Private(t *testing.T) {
	input := []byte(`{"type":"private_message","to":"bob","text":"psst"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePrivateMessage {
		t.Fatalf("expected type %q, got %q", TypePrivateMessage, msgType)
	}

	pm, ok := msg.(PrivateMsg)
	if !ok {
		t.Fatalf("expected PrivateMsg, got %T", msg)
	}
	if pm.To != "bob" {
		t.Errorf("expected to %q, got %q", "bob", pm.To)
	}
	if pm.Text != "psst" {
		t.Errorf("expected text %q, got %q", "psst", pm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed envelopes are rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_BadEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"username":"alice"}`},
		{"empty type", `{"type":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.input)); err == nil {
				t.Fatal("expected an error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a user_list server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_UserList(t *testing.T) {
	payload := UserListMsg{
		Users: []UserEntry{
			{Username: "alice", LastSeen: 1700000000},
			{Username: "bob", LastSeen: 1700000100},
		},
	}

	data, err := NewServerMessage(TypeUserList, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeUserList {
		t.Errorf("expected type %q, got %v", TypeUserList, result["type"])
	}

	users, ok := result["users"].([]interface{})
	if !ok {
		t.Fatalf("expected users to be an array, got %T", result["users"])
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	first, ok := users[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected user entry to be an object, got %T", users[0])
	}
	if first["username"] != "alice" {
		t.Errorf("expected first username %q, got %v", "alice", first["username"])
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage overrides any type set on the payload
// ---------------------------------------------------------------------------

func TestNewServerMessage_TypeInjection(t *testing.T) {
	payload := ErrorMsg{
		Type:    "wrong_type",
		Code:    "validation_error",
		Message: "message body is empty",
	}

	data, err := NewServerMessage(TypeError, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
	if result["code"] != "validation_error" {
		t.Errorf("expected code %q, got %v", "validation_error", result["code"])
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip fidelity for a server chat message
// ---------------------------------------------------------------------------

func TestRoundTrip_ServerChatMsg(t *testing.T) {
	original := ServerChatMsg{
		ID:        42,
		Sender:    "alice",
		Text:      "hello room",
		Ts:        1700000000,
		Private:   false,
	}

	data, err := NewServerMessage(TypeMessage, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	var decoded ServerChatMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeMessage {
		t.Errorf("type mismatch: expected %q, got %q", TypeMessage, decoded.Type)
	}
	if decoded.ID != original.ID {
		t.Errorf("id mismatch: expected %d, got %d", original.ID, decoded.ID)
	}
	if decoded.Sender != original.Sender {
		t.Errorf("sender mismatch: expected %q, got %q", original.Sender, decoded.Sender)
	}
	if decoded.Text != original.Text {
		t.Errorf("text mismatch: expected %q, got %q", original.Text, decoded.Text)
	}
	if decoded.Recipient != "" {
		t.Errorf("expected empty recipient for public message, got %q", decoded.Recipient)
	}
}

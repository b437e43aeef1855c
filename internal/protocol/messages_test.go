package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Send(t *testing.T) {
	input := []byte(`{"type":"send","chat_id":"abc-123","content":"Hello!","parent_id":"m-1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSend {
		t.Fatalf("expected type %q, got %q", TypeSend, msgType)
	}

	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.ChatID != "abc-123" {
		t.Errorf("expected chat_id %q, got %q", "abc-123", sm.ChatID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
	if sm.ParentID != "m-1" {
		t.Errorf("expected parent_id %q, got %q", "m-1", sm.ParentID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid update_status message
// ---------------------------------------------------------------------------

func TestParseClientMessage_UpdateStatus(t *testing.T) {
	input := []byte(`{"type":"update_status","chat_id":"c1","message_ids":["m1","m2"],"status":"seen"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUpdateStatus {
		t.Fatalf("expected type %q, got %q", TypeUpdateStatus, msgType)
	}

	um, ok := msg.(UpdateStatusMsg)
	if !ok {
		t.Fatalf("expected UpdateStatusMsg, got %T", msg)
	}
	if um.Status != StatusSeen {
		t.Errorf("expected status %q, got %q", StatusSeen, um.Status)
	}
	if len(um.MessageIDs) != 2 {
		t.Fatalf("expected 2 message ids, got %d", len(um.MessageIDs))
	}
	if um.MessageIDs[0] != "m1" || um.MessageIDs[1] != "m2" {
		t.Errorf("unexpected message ids: %v", um.MessageIDs)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a receive_message server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_ReceiveMessage(t *testing.T) {
	payload := ReceiveMessageMsg{
		Message: MessagePayload{
			ID:        "m-9",
			ChatID:    "c-1",
			SenderID:  "u-1",
			Content:   "hey",
			CreatedAt: 1700000000,
		},
	}

	data, err := NewServerMessage(TypeReceiveMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeReceiveMessage {
		t.Errorf("expected type %q, got %v", TypeReceiveMessage, result["type"])
	}

	inner, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message to be an object, got %T", result["message"])
	}
	if inner["id"] != "m-9" {
		t.Errorf("expected message id %q, got %v", "m-9", inner["id"])
	}
	if inner["content"] != "hey" {
		t.Errorf("expected content %q, got %v", "hey", inner["content"])
	}
	if _, present := inner["edited"]; present {
		t.Error("expected edited to be omitted for a fresh message")
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

// Server-only types are not accepted from clients.
func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"receive_message"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected an error for a server-only message type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join", `{"type":"join","chat_id":"c1"}`, TypeJoin},
		{"send", `{"type":"send","chat_id":"c1","content":"hi"}`, TypeSend},
		{"edit", `{"type":"edit","message_id":"m1","content":"hi!"}`, TypeEdit},
		{"delete", `{"type":"delete","message_id":"m1","scope":"me"}`, TypeDelete},
		{"react", `{"type":"react","message_id":"m1","emoji":"👍"}`, TypeReact},
		{"pin", `{"type":"pin","message_id":"m1"}`, TypePin},
		{"unpin", `{"type":"unpin","message_id":"m1"}`, TypeUnpin},
		{"typing_start", `{"type":"typing_start","chat_id":"c1"}`, TypeTypingStart},
		{"typing_stop", `{"type":"typing_stop","chat_id":"c1"}`, TypeTypingStop},
		{"update_status", `{"type":"update_status","chat_id":"c1","message_ids":["m1"],"status":"delivered"}`, TypeUpdateStatus},
		{"block", `{"type":"block","target_user_id":"u2"}`, TypeBlock},
		{"unblock", `{"type":"unblock","target_user_id":"u2"}`, TypeUnblock},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

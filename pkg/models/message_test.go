package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelType_Constants(t *testing.T) {
	tests := []struct {
		constant ChannelType
		expected string
	}{
		{ChannelAPI, "api"},
		{ChannelTelegram, "telegram"},
		{ChannelDiscord, "discord"},
		{ChannelSlack, "slack"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestParseProvider(t *testing.T) {
	for _, p := range []Provider{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderBedrock} {
		got, err := ParseProvider(string(p))
		if err != nil {
			t.Fatalf("ParseProvider(%q): %v", p, err)
		}
		if got != p {
			t.Errorf("ParseProvider(%q) = %q, want %q", p, got, p)
		}
	}

	if _, err := ParseProvider("mistral"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestProvider_DefaultAPIKeyEnv(t *testing.T) {
	if got := ProviderAnthropic.DefaultAPIKeyEnv(); got != "ANTHROPIC_API_KEY" {
		t.Errorf("DefaultAPIKeyEnv() = %q, want ANTHROPIC_API_KEY", got)
	}
}

func TestMessage_Struct(t *testing.T) {
	now := time.Now()
	msg := Message{
		ID:        "msg-123",
		SessionID: "session-456",
		Channel:   ChannelSlack,
		ChannelID: "slack-channel-id",
		Direction: DirectionInbound,
		Role:      RoleUser,
		Content:   "Hello, world!",
		Metadata:  map[string]any{"key": "value"},
		CreatedAt: now,
	}

	if msg.ID != "msg-123" {
		t.Errorf("ID = %q, want %q", msg.ID, "msg-123")
	}
	if msg.Channel != ChannelSlack {
		t.Errorf("Channel = %v, want %v", msg.Channel, ChannelSlack)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:          "msg-123",
		SessionID:   "session-456",
		Channel:     ChannelTelegram,
		ChannelID:   "tg-123",
		Direction:   DirectionOutbound,
		Role:        RoleAssistant,
		Content:     "Hello!",
		Attachments: []Attachment{{ID: "att-1", Type: "image", URL: "http://example.com/img.png"}},
		ToolCalls:   []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
		ToolResults: []ToolResult{{ToolCallID: "tc-1", Content: "result", IsError: false}},
		Metadata:    map[string]any{"source": "test"},
		CreatedAt:   now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if len(decoded.Attachments) != 1 {
		t.Errorf("Attachments length = %d, want 1", len(decoded.Attachments))
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
	if len(decoded.ToolResults) != 1 {
		t.Errorf("ToolResults length = %d, want 1", len(decoded.ToolResults))
	}
}

func TestToolCall_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tc      ToolCall
		wantErr bool
	}{
		{"valid", ToolCall{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"x"}`)}, false},
		{"empty id", ToolCall{Name: "search"}, true},
		{"empty name", ToolCall{ID: "tc-1"}, true},
		{"invalid json", ToolCall{ID: "tc-1", Name: "search", Input: json.RawMessage(`{bad`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Content: "Search results here", IsError: false}
	if tr.ToolCallID != "tc-123" {
		t.Errorf("ToolCallID = %q, want %q", tr.ToolCallID, "tc-123")
	}
	if tr.IsError {
		t.Error("IsError should be false")
	}
}

func TestToolDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		td      ToolDefinition
		wantErr bool
	}{
		{"valid", ToolDefinition{Name: "search", Description: "search the web", Parameters: json.RawMessage(`{"type":"object"}`)}, false},
		{"empty name", ToolDefinition{Description: "x", Parameters: json.RawMessage(`{}`)}, true},
		{"empty description", ToolDefinition{Name: "x", Parameters: json.RawMessage(`{}`)}, true},
		{"non-object parameters", ToolDefinition{Name: "x", Description: "y", Parameters: json.RawMessage(`[1,2]`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.td.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForProvider(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		provider Provider
		wantErr  bool
	}{
		{
			name:     "assistant with tool calls ok",
			msg:      Message{ID: "m1", Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "tc1", Name: "x", Input: json.RawMessage(`{}`)}}},
			provider: ProviderAnthropic,
		},
		{
			name:     "non-assistant with tool calls rejected",
			msg:      Message{ID: "m2", Role: RoleUser, ToolCalls: []ToolCall{{ID: "tc1", Name: "x"}}},
			provider: ProviderAnthropic,
			wantErr:  true,
		},
		{
			name:     "tool role without id rejected for anthropic",
			msg:      Message{ID: "m3", Role: RoleTool, Content: "result"},
			provider: ProviderAnthropic,
			wantErr:  true,
		},
		{
			name:     "tool role without id allowed for openai",
			msg:      Message{ID: "m4", Role: RoleTool, Content: "result"},
			provider: ProviderOpenAI,
		},
		{
			name:     "tool_call_id on non-tool role rejected",
			msg:      Message{ID: "m5", Role: RoleUser, ToolCallID: "tc1"},
			provider: ProviderOpenAI,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateForProvider(&tt.msg, tt.provider)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateForProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:        "session-123",
		AgentID:   "agent-456",
		Channel:   ChannelAPI,
		ChannelID: "api-channel",
		Key:       "unique-key",
		Title:     "Test Session",
		Metadata:  map[string]any{"test": true},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if session.Channel != ChannelAPI {
		t.Errorf("Channel = %v, want %v", session.Channel, ChannelAPI)
	}
}

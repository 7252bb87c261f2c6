package message

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name: "valid user message",
			msg:  NewUserMessage("hello"),
		},
		{
			name:    "missing role",
			msg:     Message{Content: "text"},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "unknown role",
			msg:     Message{Role: "wizard", Content: "text"},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "empty content",
			msg:     Message{Role: RoleUser},
			wantErr: ErrEmptyContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	input := []Message{
		NewUserMessage("keep me"),
		{Role: "", Content: "no role"},
		{Role: RoleAssistant, Content: ""},
		NewAssistantMessage("keep me too"),
	}

	got := Prune(input)
	if len(got) != 2 {
		t.Fatalf("Prune kept %d messages, want 2", len(got))
	}
	if got[0].Content != "keep me" || got[1].Content != "keep me too" {
		t.Errorf("Prune result = %+v", got)
	}
}

func TestPruneEmpty(t *testing.T) {
	if got := Prune(nil); len(got) != 0 {
		t.Errorf("Prune(nil) = %+v", got)
	}
}

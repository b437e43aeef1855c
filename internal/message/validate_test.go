package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/duetchat/duet/internal/errs"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"simple", "hello", false},
		{"unicode", "こんにちは 👋", false},
		{"max chars", strings.Repeat("a", MaxContentChars), false},
		{"empty", "", true},
		{"too many chars", strings.Repeat("a", MaxContentChars+1), true},
		{"too many bytes", strings.Repeat("字", MaxContentBytes/3+1), true},
		{"invalid utf8", "abc\xff\xfe", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.content)
			if tc.wantErr {
				if !errors.Is(err, errs.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateEmoji(t *testing.T) {
	cases := []struct {
		name    string
		emoji   string
		wantErr bool
	}{
		{"simple", "👍", false},
		{"composed family", "👨‍👩‍👧‍👦", false},
		{"flag", "🇳🇿", false},
		{"empty", "", true},
		{"too long", strings.Repeat("👍", MaxEmojiChars+1), true},
		{"invalid utf8", "\xff", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEmoji(tc.emoji)
			if tc.wantErr {
				if !errors.Is(err, errs.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

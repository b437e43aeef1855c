package message

import (
	"fmt"
	"unicode/utf8"

	"github.com/duetchat/duet/internal/errs"
)

const (
	MaxContentBytes = 4096 // 4KB max frame payload
	MaxContentChars = 2000 // max character count

	// MaxEmojiChars caps a reaction emoji. Most emoji are 1-2 codepoints
	// but composed sequences (families, flags) can run past 10.
	MaxEmojiChars = 32
)

// ValidateContent checks that message text meets content requirements.
func ValidateContent(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: message content is empty", errs.ErrValidation)
	}
	if len(text) > MaxContentBytes {
		return fmt.Errorf("%w: message exceeds %d byte limit", errs.ErrValidation, MaxContentBytes)
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return fmt.Errorf("%w: message exceeds %d character limit", errs.ErrValidation, MaxContentChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message contains invalid UTF-8", errs.ErrValidation)
	}
	return nil
}

// ValidateEmoji checks that a reaction emoji is well formed.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", errs.ErrValidation)
	}
	if !utf8.ValidString(emoji) {
		return fmt.Errorf("%w: emoji contains invalid UTF-8", errs.ErrValidation)
	}
	if utf8.RuneCountInString(emoji) > MaxEmojiChars {
		return fmt.Errorf("%w: emoji too long", errs.ErrValidation)
	}
	return nil
}

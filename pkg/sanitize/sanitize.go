package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// RoomID trims a client supplied room id and reports whether it is usable:
// 1 to maxLen characters of letters, digits, underscore or hyphen.
func RoomID(input string, maxLen int) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" || len(input) > maxLen {
		return input, false
	}
	return input, roomIDPattern.MatchString(input)
}

// Note strips control characters, trims and cuts free text to maxRunes
// runes. Markup is stored as written; escaping happens where it is rendered.
func Note(input string, maxRunes int) string {
	input = controlChars.ReplaceAllString(input, "")
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) > maxRunes {
		input = strings.TrimSpace(string([]rune(input)[:maxRunes]))
	}
	return input
}

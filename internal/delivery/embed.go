package delivery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alekspetrov/nova/internal/platform"
)

// Common embed colours.
const (
	ColourBlurple = 0x5865F2
	ColourGreen   = 0x2ECC71
	ColourRed     = 0xE74C3C
	ColourWhite   = 0xFFFFFF
)

// Embed builds the standard reply embed. Either message or title may be
// empty; with both empty the embed is empty.
func Embed(colour int, message, title string) platform.Embed {
	return platform.Embed{Title: title, Description: message, Color: colour}
}

// EmbedReply wraps Embed in a Reply.
func EmbedReply(colour int, message, title string, ephemeral bool) Reply {
	return Reply{Embeds: []platform.Embed{Embed(colour, message, title)}, Ephemeral: ephemeral}
}

// Success and Failure are the green and red replies used by commands.
func Success(message string, ephemeral bool) Reply {
	return EmbedReply(ColourGreen, message, "", ephemeral)
}

func Failure(message string, ephemeral bool) Reply {
	return EmbedReply(ColourRed, message, "", ephemeral)
}

// ParseColour parses "#RRGGBB" or "RRGGBB" into an embed colour.
func ParseColour(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return int(v), nil
}

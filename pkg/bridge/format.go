package bridge

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"wabridge/pkg/channel"

	"go.mau.fi/util/exmime"
)

const (
	stickerFallbackCaption = "🎭 Sticker (as image)"
	telegramFallbackText   = "📱 Message from Telegram"
	quoteFallbackText      = "Media message"
	statusReplyHint        = "💡 Reply to a status message to react to it on WhatsApp"
	defaultStatusReaction  = "👍"
	statusReactionSent     = "✅"
	statusReactionFailed   = "❌"
)

var vcardPhone = regexp.MustCompile(`(?i)TEL[^:]*:([^\n\r]+)`)

func senderPrefix(name string) string {
	return "👤 **" + name + "**"
}

// groupText formats a group message for a topic that represents the whole group.
func groupText(sender, body string, hasMedia bool) string {
	switch {
	case strings.TrimSpace(body) != "":
		return senderPrefix(sender) + ": " + body
	case hasMedia:
		return senderPrefix(sender) + ": _sent media_"
	default:
		return senderPrefix(sender) + ": _sent a message_"
	}
}

func groupCaption(sender, body string) string {
	if strings.TrimSpace(body) == "" {
		return senderPrefix(sender)
	}
	return senderPrefix(sender) + ": " + body
}

// phoneFromVCard returns the first TEL value with everything but digits and '+' removed.
func phoneFromVCard(vcard string) string {
	match := vcardPhone.FindStringSubmatch(vcard)
	if match == nil {
		return ""
	}

	var b strings.Builder
	for _, r := range strings.TrimSpace(match[1]) {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func buildVCard(name, phone string) string {
	return "BEGIN:VCARD\nVERSION:3.0\nFN:" + name + "\nTEL:" + phone + "\nEND:VCARD"
}

func contactFallbackText(name string) string {
	if name == "" {
		name = "Unknown"
	}
	return "👤 **Contact Shared**\n\n📝 *Name:* " + name
}

func contactsSummary(sender string, n int) string {
	if n == 1 {
		return senderPrefix(sender) + " shared a contact"
	}
	return senderPrefix(sender) + " shared " + strconv.Itoa(n) + " contacts"
}

func locationText(loc channel.Location) string {
	var b strings.Builder
	if loc.Name != "" {
		b.WriteString("📝 *Name:* " + loc.Name + "\n")
	}
	if loc.Address != "" {
		b.WriteString("🏠 *Address:* " + loc.Address)
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusHeader(name, caption string) string {
	header := "📱 *" + name + "*"
	if strings.TrimSpace(caption) == "" {
		return header
	}
	return header + "\n\n" + caption
}

func callText(info channel.CallInfo, name, number string) string {
	kind := "Voice"
	if info.IsVideo {
		kind = "Video"
	}
	return "📞 " + kind + " Call from " + name + " (" + number + ")"
}

func profileUpdatedCaption(name string) string {
	return "📸 *Profile Picture Updated*\n\n👤 " + name + " changed their profile picture"
}

// fileName returns name, or prefix_<ms>.<ext> derived from the mimetype.
func fileName(name, prefix, mimeType string, unixMilli int64) string {
	if name != "" {
		return name
	}
	ext := strings.TrimPrefix(exmime.ExtensionFromMimetype(mimeType), ".")
	if ext == "" {
		ext = "bin"
	}
	return prefix + "_" + strconv.FormatInt(unixMilli, 10) + "." + ext
}

// firstEmoji returns the leading emoji of text, keeping variation selectors,
// skin tone modifiers and zero width joined sequences together.
func firstEmoji(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	_, size := utf8.DecodeRuneInString(text)
	end := size
	joined := false
	for end < len(text) {
		r, n := utf8.DecodeRuneInString(text[end:])
		switch {
		case r == 0xFE0F || (r >= 0x1F3FB && r <= 0x1F3FF):
			end += n
		case r == 0x200D:
			end += n
			joined = true
			continue
		case joined:
			end += n
		default:
			return text[:end]
		}
		joined = false
	}
	return text[:end]
}

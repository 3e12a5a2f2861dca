package registry

import (
	"strconv"
	"strings"

	"wabridge/pkg/channel"
)

// Forum topic icon colors. Telegram accepts only this fixed palette.
const (
	ColorContact = 0x6FB9F0
	ColorGroup   = 0x8EEE98
	ColorStatus  = 0x8EEE98
	ColorCall    = 0xFB6F5F
)

const (
	statusTopicName = "📱 Status Updates"
	callTopicName   = "📞 Call Logs"

	statusInfoText = "📱 *WhatsApp Status Updates*\n\n" +
		"🔄 This topic shows all WhatsApp status updates\n" +
		"📊 Status views, images, videos will appear here\n" +
		"💬 Reply to a status to react to it on WhatsApp\n" +
		"⚠️ Only statuses with captions or media are forwarded"

	callInfoText = "📞 *WhatsApp Call Logs*\n\n" +
		"📋 All incoming and outgoing calls will be logged here\n" +
		"📱 Voice and video calls included\n" +
		"⚠️ This is a read-only topic"

	groupLabelPrefix = "🏷️ "
)

// topicName returns the forum topic title and icon color for conv.
func topicName(conv channel.Conversation) (string, int) {
	switch conv.Kind() {
	case channel.KindStatus:
		return statusTopicName, ColorStatus
	case channel.KindCall:
		return callTopicName, ColorCall
	case channel.KindGroup:
		return conv.Name, ColorGroup
	default:
		return conv.Name + " (+" + conv.ID + ")", ColorContact
	}
}

// uniqueName appends the last four digits of the millisecond clock to a name
// that collided with an existing topic.
func uniqueName(kind channel.ConversationKind, name string, unixMilli int64) string {
	ms := strconv.FormatInt(unixMilli, 10)
	suffix := ms[max(0, len(ms)-4):]

	if kind == channel.KindIndividual {
		return name + " " + suffix
	}
	return name + " (" + suffix + ")"
}

func contactCard(conv channel.Conversation, info channel.ConversationInfo) string {
	var b strings.Builder
	b.WriteString("👤 *Contact Information*\n\n")
	b.WriteString("📝 *Name:* " + conv.Name + "\n")
	b.WriteString("📞 *WhatsApp:* +" + conv.ID + "\n")
	if about := strings.TrimSpace(info.About); about != "" {
		b.WriteString("💬 *About:* " + about + "\n")
	}
	b.WriteString("\n🔄 *Reply to this topic to send messages to WhatsApp*")
	return b.String()
}

func groupCard(conv channel.Conversation, info channel.ConversationInfo) string {
	var b strings.Builder
	b.WriteString("🏷️ *Group Information*\n\n")
	b.WriteString("📝 *Name:* " + strings.TrimPrefix(conv.Name, groupLabelPrefix) + "\n")
	b.WriteString("🆔 *Group ID:* " + channel.GroupID(conv.ID) + "\n")
	if info.Participants > 0 {
		b.WriteString("👥 *Members:* " + strconv.Itoa(info.Participants) + "\n")
	}
	if desc := strings.TrimSpace(info.Description); desc != "" {
		b.WriteString("📄 *Description:* " + desc + "\n")
	}
	b.WriteString("\n🔄 *Reply to this topic to send messages to the WhatsApp group*\n")
	b.WriteString("👥 *All group members will see your message*\n")
	b.WriteString("💬 *Reply to a message to quote it on WhatsApp*")
	return b.String()
}

func profileCaption(conv channel.Conversation) string {
	caption := "📸 *Profile Picture*\n👤 " + conv.Name
	if conv.Kind() == channel.KindIndividual {
		caption += " (+" + conv.ID + ")"
	}
	return caption
}

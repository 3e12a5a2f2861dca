package telegram

import (
	"errors"
	"strings"
	"testing"

	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/logger"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/require"
)

const testChatID int64 = -1001234

func testAdapter(allowFrom ...string) *Adapter {
	return &Adapter{
		cfg:       config.TelegramConfig{ChatID: testChatID},
		allowFrom: allowFromSet(allowFrom),
		log:       logger.Discard(),
	}
}

func topicMessage(text string) *telego.Message {
	return &telego.Message{
		MessageID:       50,
		MessageThreadID: 7,
		IsTopicMessage:  true,
		From:            &telego.User{ID: 99, FirstName: "Ana"},
		Chat:            telego.Chat{ID: testChatID},
		Text:            text,
		ReplyToMessage:  &telego.Message{MessageID: 7},
	}
}

func TestNewAdapterValidatesConfig(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{ChatID: testChatID}, nil)
	require.ErrorContains(t, err, "telegram.token is required")

	_, err = NewAdapter(config.TelegramConfig{Token: "123:abc"}, nil)
	require.ErrorContains(t, err, "telegram.chat_id is required")
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
	if got := allowFromSet([]string{" ", ""}); got != nil {
		t.Fatalf("allowFromSet blanks = %v, want nil", got)
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := testAdapter("1")
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestAcceptFiltersUpdates(t *testing.T) {
	adapter := testAdapter()

	msg, ok := adapter.accept(topicMessage("hi"))
	require.True(t, ok)
	require.Equal(t, 7, msg.TopicID)
	require.Equal(t, int64(99), msg.SenderID)
	require.Zero(t, msg.ReplyToID, "implicit topic root reply must not count as a reply")

	tests := map[string]func(m *telego.Message){
		"nil sender":  func(m *telego.Message) { m.From = nil },
		"bot sender":  func(m *telego.Message) { m.From.IsBot = true },
		"other chat":  func(m *telego.Message) { m.Chat.ID = 42 },
		"command":     func(m *telego.Message) { m.Text = "/start" },
		"general":     func(m *telego.Message) { m.IsTopicMessage = false; m.MessageThreadID = 0 },
		"not allowed": func(m *telego.Message) { adapter.allowFrom = allowFromSet([]string{"5"}) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			adapter.allowFrom = nil
			m := topicMessage("hi")
			mutate(m)
			if _, ok := adapter.accept(m); ok {
				t.Fatalf("accept(%s) = true, want false", name)
			}
		})
	}

	if _, ok := adapter.accept(nil); ok {
		t.Fatal("accept(nil) = true, want false")
	}
}

func TestToDestinationMessageReply(t *testing.T) {
	m := topicMessage("answer")
	m.ReplyToMessage = &telego.Message{MessageID: 31, Caption: "photo caption"}

	msg := toDestinationMessage(m)
	require.Equal(t, 31, msg.ReplyToID)
	require.Equal(t, "photo caption", msg.ReplyText)
}

func TestToDestinationMessageMedia(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *telego.Message)
		want  channel.MediaRef
	}{
		{
			name: "largest photo",
			setup: func(m *telego.Message) {
				m.Photo = []telego.PhotoSize{
					{FileID: "small", Width: 90, Height: 90},
					{FileID: "big", Width: 1280, Height: 720},
					{FileID: "mid", Width: 320, Height: 320},
				}
			},
			want: channel.MediaRef{Ref: "big", Kind: channel.MediaImage, MimeType: "image/jpeg"},
		},
		{
			name: "animation wins over document",
			setup: func(m *telego.Message) {
				m.Animation = &telego.Animation{FileID: "gif", MimeType: "video/mp4", FileName: "a.mp4"}
				m.Document = &telego.Document{FileID: "gif", MimeType: "video/mp4"}
			},
			want: channel.MediaRef{Ref: "gif", Kind: channel.MediaAnimation, MimeType: "video/mp4", FileName: "a.mp4"},
		},
		{
			name: "video sticker",
			setup: func(m *telego.Message) {
				m.Sticker = &telego.Sticker{FileID: "stk", IsVideo: true, Thumbnail: &telego.PhotoSize{FileID: "thumb"}}
			},
			want: channel.MediaRef{Ref: "stk", Kind: channel.MediaSticker, MimeType: "video/webm", Animated: true, Fallback: "thumb"},
		},
		{
			name: "static sticker",
			setup: func(m *telego.Message) {
				m.Sticker = &telego.Sticker{FileID: "stk"}
			},
			want: channel.MediaRef{Ref: "stk", Kind: channel.MediaSticker, MimeType: "image/webp"},
		},
		{
			name: "voice",
			setup: func(m *telego.Message) {
				m.Voice = &telego.Voice{FileID: "v", MimeType: "audio/ogg"}
			},
			want: channel.MediaRef{Ref: "v", Kind: channel.MediaVoice, MimeType: "audio/ogg"},
		},
		{
			name: "document",
			setup: func(m *telego.Message) {
				m.Document = &telego.Document{FileID: "d", MimeType: "application/pdf", FileName: "r.pdf"}
			},
			want: channel.MediaRef{Ref: "d", Kind: channel.MediaDocument, MimeType: "application/pdf", FileName: "r.pdf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := topicMessage("")
			tt.setup(m)
			msg := toDestinationMessage(m)
			require.NotNil(t, msg.Media)
			require.Equal(t, tt.want, *msg.Media)
		})
	}
}

func TestToDestinationMessageContactAndVenue(t *testing.T) {
	m := topicMessage("")
	m.Contact = &telego.Contact{PhoneNumber: "+155", FirstName: "Bo", LastName: "Li"}
	msg := toDestinationMessage(m)
	require.Equal(t, &channel.SharedContact{DisplayName: "Bo Li", Phone: "+155"}, msg.Contact)

	m = topicMessage("")
	m.Location = &telego.Location{Latitude: 1, Longitude: 2}
	m.Venue = &telego.Venue{Location: telego.Location{Latitude: 1, Longitude: 2}, Title: "Cafe", Address: "Main St"}
	msg = toDestinationMessage(m)
	require.Equal(t, &channel.Location{Latitude: 1, Longitude: 2, Name: "Cafe", Address: "Main St"}, msg.Location)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want channel.ErrorKind
	}{
		{&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: message thread not found"}, channel.ErrorTopicMissing},
		{&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: TOPIC_DELETED"}, channel.ErrorTopicMissing},
		{&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: message to be replied not found"}, channel.ErrorRejected},
		{&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: topic name already exists"}, channel.ErrorDuplicateName},
		{&telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests: retry after 5"}, channel.ErrorUnavailable},
		{&telegoapi.Error{ErrorCode: 502, Description: "Bad Gateway"}, channel.ErrorUnavailable},
		{&telegoapi.Error{ErrorCode: 403, Description: "Forbidden: not enough rights"}, channel.ErrorRejected},
		{errors.New("dial tcp: connection refused"), channel.ErrorUnavailable},
	}

	for _, tt := range tests {
		got := channel.KindOf(classify("op", tt.err))
		if got != tt.want {
			t.Fatalf("classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	require.NoError(t, classify("op", nil))
}

func TestWithMarkdownRetriesPlain(t *testing.T) {
	var modes []string
	msg, err := withMarkdown(func(parseMode string) (*telego.Message, error) {
		modes = append(modes, parseMode)
		if parseMode != "" {
			return nil, &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: can't parse entities: unclosed bold"}
		}
		return &telego.Message{MessageID: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, msg.MessageID)
	require.Equal(t, []string{telego.ModeMarkdown, ""}, modes)

	modes = nil
	_, err = withMarkdown(func(parseMode string) (*telego.Message, error) {
		modes = append(modes, parseMode)
		return nil, &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: chat not found"}
	})
	require.Error(t, err)
	require.Len(t, modes, 1)
}

func TestReplyParameters(t *testing.T) {
	require.Nil(t, replyParameters(channel.SendOptions{}))

	reply := replyParameters(channel.SendOptions{ReplyTo: 8})
	require.Equal(t, 8, reply.MessageID)
	require.True(t, reply.AllowSendingWithoutReply)
}

func TestUploadName(t *testing.T) {
	tests := []struct {
		media channel.OutboundMedia
		want  string
	}{
		{channel.OutboundMedia{Kind: channel.MediaImage}, "photo.jpg"},
		{channel.OutboundMedia{Kind: channel.MediaVoice}, "voice.ogg"},
		{channel.OutboundMedia{Kind: channel.MediaSticker}, "sticker.webp"},
		{channel.OutboundMedia{Kind: channel.MediaDocument}, "file.bin"},
		{channel.OutboundMedia{Kind: channel.MediaDocument, FileName: "a.z"}, "a.z"},
	}
	for _, tt := range tests {
		if got := uploadName(tt.media); got != tt.want {
			t.Fatalf("uploadName(%s) = %q, want %q", tt.media.Kind, got, tt.want)
		}
	}
}

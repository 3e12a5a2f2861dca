package bridge

import "testing"

func TestFirstEmoji(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"❤️ love it", "❤️"},
		{"👍🏽 nice", "👍🏽"},
		{"👨‍👩‍👧 family", "👨‍👩‍👧"},
		{"ok", "o"},
		{"   ", ""},
		{"🔥", "🔥"},
	}
	for _, tt := range tests {
		if got := firstEmoji(tt.in); got != tt.want {
			t.Fatalf("firstEmoji(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhoneFromVCard(t *testing.T) {
	tests := []struct {
		vcard string
		want  string
	}{
		{"BEGIN:VCARD\nTEL;type=CELL;waid=31612345678:+31 6 1234 5678\nEND:VCARD", "+31612345678"},
		{"BEGIN:VCARD\r\ntel:(555) 010-2000\r\nEND:VCARD", "5550102000"},
		{"BEGIN:VCARD\nFN:No Phone\nEND:VCARD", ""},
	}
	for _, tt := range tests {
		if got := phoneFromVCard(tt.vcard); got != tt.want {
			t.Fatalf("phoneFromVCard(%q) = %q, want %q", tt.vcard, got, tt.want)
		}
	}
}

func TestGroupText(t *testing.T) {
	if got := groupText("Alice", "hi", false); got != "👤 **Alice**: hi" {
		t.Fatalf("groupText = %q", got)
	}
	if got := groupText("Alice", "", true); got != "👤 **Alice**: _sent media_" {
		t.Fatalf("groupText media = %q", got)
	}
	if got := groupText("Alice", "", false); got != "👤 **Alice**: _sent a message_" {
		t.Fatalf("groupText empty = %q", got)
	}
	if got := groupCaption("Alice", ""); got != "👤 **Alice**" {
		t.Fatalf("groupCaption = %q", got)
	}
}

func TestFileName(t *testing.T) {
	if got := fileName("report.pdf", "document", "application/pdf", 1); got != "report.pdf" {
		t.Fatalf("fileName kept = %q", got)
	}
	if got := fileName("", "status", "video/mp4", 42); got != "status_42.mp4" {
		t.Fatalf("fileName mp4 = %q", got)
	}
	if got := fileName("", "document", "", 42); got != "document_42.bin" {
		t.Fatalf("fileName unknown = %q", got)
	}
}

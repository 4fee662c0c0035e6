package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestShouldBlock(t *testing.T) {
	block := map[string]bool{"fonts": true, "media": true}
	tests := []struct {
		resType string
		want    bool
	}{
		{"Font", true},
		{"Media", true},
		{"Image", false},
		{"Stylesheet", false},
		{"Script", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(block, tt.resType); got != tt.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", tt.resType, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want proto.PageCaptureScreenshotFormat
	}{
		{"", proto.PageCaptureScreenshotFormatPng},
		{"png", proto.PageCaptureScreenshotFormatPng},
		{"jpg", proto.PageCaptureScreenshotFormatJpeg},
		{"webp", proto.PageCaptureScreenshotFormatWebp},
	}
	for _, tt := range tests {
		got, err := parseFormat(tt.in)
		if err != nil {
			t.Fatalf("parseFormat(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseFormat(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := parseFormat("bmp"); err == nil {
		t.Error("bmp: expected error")
	}
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"plain", "headless", "headful"} {
		if got := ParseMode(name).String(); got != name {
			t.Errorf("ParseMode(%q).String() = %q", name, got)
		}
	}
	if ParseMode("") != ModeHeadless {
		t.Error("empty mode should default to headless")
	}
}

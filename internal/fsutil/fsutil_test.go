package fsutil

import "testing"

func TestSanitizeName(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"AC/DC", "AC_DC"},
		{"What?: The Album", "What__ The Album"},
		{"a<b>c|d", "a_b_c_d"},
		{"  padded  ", "padded"},
		{"普通话", "普通话"},
		{"clean name", "clean name"},
	}

	for _, tc := range testCases {
		if got := SanitizeName(tc.input); got != tc.expected {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestStem(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/music/song.mp3", "song"},
		{"song.flac", "song"},
		{"no-extension", "no-extension"},
		{"/a/b/c.d.e", "c.d"},
	}

	for _, tc := range testCases {
		if got := Stem(tc.input); got != tc.expected {
			t.Errorf("Stem(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	for _, path := range []string{"a.jpg", "a.JPG", "a.jpeg", "a.png", "a.gif", "a.webp"} {
		if !IsImageFile(path) {
			t.Errorf("IsImageFile(%q) = false", path)
		}
	}
	for _, path := range []string{"a.mp3", "a.txt", "a", "jpg"} {
		if IsImageFile(path) {
			t.Errorf("IsImageFile(%q) = true", path)
		}
	}
}

func TestDetectImageMIME(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"PNG", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"GIF", []byte("GIF89a"), "image/gif"},
		{"WEBP", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"Unknown", []byte{0x00, 0x01, 0x02, 0x03}, "application/octet-stream"},
		{"TooShort", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectImageMIME(tc.data); got != tc.expected {
				t.Errorf("DetectImageMIME = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestExtForMIME(t *testing.T) {
	testCases := []struct {
		mime     string
		expected string
	}{
		{"image/png", "png"},
		{"image/gif", "gif"},
		{"image/webp", "webp"},
		{"image/jpeg", "jpg"},
		{"application/octet-stream", "jpg"},
	}

	for _, tc := range testCases {
		if got := ExtForMIME(tc.mime); got != tc.expected {
			t.Errorf("ExtForMIME(%q) = %q, want %q", tc.mime, got, tc.expected)
		}
	}
}

package lyrics

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// DecodeText recovers readable text from lyric file bytes of unknown
// encoding. It tries UTF-8 first, then GBK, then Big5, and always returns
// best-effort text plus the name of the encoding that was used. Null bytes
// are stripped from the result.
func DecodeText(data []byte) (string, string) {
	if utf8.Valid(data) {
		return stripNulls(string(data)), "utf-8"
	}

	// x/text decoders substitute U+FFFD for undecodable bytes instead of
	// failing; a replacement rune in the output means the guess was wrong.
	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil {
		if !strings.ContainsRune(string(decoded), utf8.RuneError) {
			return stripNulls(string(decoded)), "gbk"
		}
	}

	decoded, err := traditionalchinese.Big5.NewDecoder().Bytes(data)
	if err != nil {
		// Last resort: lossy raw conversion rather than no lyrics at all.
		return stripNulls(string(data)), "raw"
	}
	return stripNulls(string(decoded)), "big5"
}

func stripNulls(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

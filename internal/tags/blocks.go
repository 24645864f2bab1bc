package tags

import (
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Block is one tag block present in an audio container (ID3v2, Vorbis
// comments, MP4 atoms). Scalar accessors return the zero value when the
// block does not carry the field; callers take the first non-empty value
// across blocks in container-declared order.
type Block interface {
	Title() string
	Artist() string
	Album() string
	Track() int
	Year() int
	Lyrics() string
	Pictures() []Picture
}

// Picture is an embedded image carried by a tag block.
type Picture struct {
	Data []byte
	Ext  string
	MIME string
}

// typedBlock adapts the typed accessor view of a dhowden/tag metadata set.
type typedBlock struct {
	meta tag.Metadata
}

func (b typedBlock) Title() string  { return b.meta.Title() }
func (b typedBlock) Artist() string { return b.meta.Artist() }
func (b typedBlock) Album() string  { return b.meta.Album() }

func (b typedBlock) Track() int {
	n, _ := b.meta.Track()
	return n
}

func (b typedBlock) Year() int { return b.meta.Year() }

func (b typedBlock) Lyrics() string { return b.meta.Lyrics() }

func (b typedBlock) Pictures() []Picture {
	pic := b.meta.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil
	}
	return []Picture{{Data: pic.Data, Ext: pic.Ext, MIME: pic.MIMEType}}
}

// rawBlock reads the container's raw frame map directly, catching fields
// the typed accessors miss (uncommon frame ids, comment-carried lyrics).
type rawBlock struct {
	raw map[string]interface{}
}

func (b rawBlock) Title() string  { return b.firstString("TIT2", "TT2", "title", "\xa9nam") }
func (b rawBlock) Artist() string { return b.firstString("TPE1", "TP1", "artist", "\xa9ART") }
func (b rawBlock) Album() string  { return b.firstString("TALB", "TAL", "album", "\xa9alb") }

func (b rawBlock) Track() int {
	v := b.firstString("TRCK", "TRK", "tracknumber", "trkn")
	if v == "" {
		return 0
	}
	// ID3 track frames may carry "n/total"
	if idx := strings.IndexByte(v, '/'); idx >= 0 {
		v = v[:idx]
	}
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}

func (b rawBlock) Year() int {
	v := b.firstString("TYER", "TDRC", "TYE", "date", "year", "\xa9day")
	if len(v) >= 4 {
		v = v[:4]
	}
	n, _ := strconv.Atoi(v)
	return n
}

func (b rawBlock) Lyrics() string {
	for _, key := range []string{"USLT", "ULT", "lyrics", "LYRICS", "unsyncedlyrics", "\xa9lyr"} {
		if v, ok := b.lookup(key); ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case *tag.Comm:
				if val != nil && val.Text != "" {
					return val.Text
				}
			}
		}
	}
	return ""
}

func (b rawBlock) Pictures() []Picture {
	var pics []Picture
	for _, key := range []string{"APIC", "PIC", "metadata_block_picture", "covr"} {
		if v, ok := b.lookup(key); ok {
			if pic, okPic := v.(*tag.Picture); okPic && pic != nil && len(pic.Data) > 0 {
				pics = append(pics, Picture{Data: pic.Data, Ext: pic.Ext, MIME: pic.MIMEType})
			}
		}
	}
	return pics
}

func (b rawBlock) firstString(keys ...string) string {
	for _, key := range keys {
		if v, ok := b.lookup(key); ok {
			if s, okStr := v.(string); okStr && s != "" {
				return s
			}
		}
	}
	return ""
}

// lookup is case-insensitive because vorbis comment keys are free-form.
func (b rawBlock) lookup(key string) (interface{}, bool) {
	if v, ok := b.raw[key]; ok {
		return v, true
	}
	lower := strings.ToLower(key)
	for k, v := range b.raw {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// blocksFrom builds the ordered block list for one probed file: the typed
// accessor view first, then the raw frame view for anything it missed.
func blocksFrom(meta tag.Metadata) []Block {
	if meta == nil {
		return nil
	}
	blocks := []Block{typedBlock{meta: meta}}
	if raw := meta.Raw(); len(raw) > 0 {
		blocks = append(blocks, rawBlock{raw: raw})
	}
	return blocks
}

// firstNonEmpty returns the first non-empty string produced by get across
// the given blocks.
func firstNonEmpty(blocks []Block, get func(Block) string) string {
	for _, b := range blocks {
		if v := get(b); v != "" {
			return v
		}
	}
	return ""
}

// firstPositive returns the first positive int produced by get.
func firstPositive(blocks []Block, get func(Block) int) int {
	for _, b := range blocks {
		if v := get(b); v > 0 {
			return v
		}
	}
	return 0
}

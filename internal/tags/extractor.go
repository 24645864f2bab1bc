package tags

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"

	"melisma/internal/apperr"
)

// Probe is the result of extracting one audio file: technical properties,
// the resolved scalar fields, and the raw tag blocks for downstream
// resolvers (lyrics, covers).
type Probe struct {
	Duration    int // seconds
	Bitrate     int // kbps
	Format      string
	Size        int64
	Title       string
	Artist      string
	Album       string
	TrackNumber int
	Year        int
	FullyTagged bool // title, artist and album all came from tags, not defaults
	Blocks      []Block
}

// Extractor reads technical properties and tag fields from audio files.
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Logger
}

// NewExtractor creates a new tag extractor for the given extensions
// (".mp3" style, lowercase).
func NewExtractor(supportedFormats []string) *Extractor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Extractor{
		supportedFormats: supportedFormats,
		logger:           logger,
	}
}

// Extract reads one audio file. Unresolved fields default to the filename
// stem / "Unknown Artist" / "Unknown Album". A corrupt container yields a
// Metadata-class error; the caller counts it as one file failure.
func (e *Extractor) Extract(path string) (*Probe, error) {
	startTime := time.Now()

	file, err := os.Open(path)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Error("Failed to open audio file")
		return nil, apperr.Wrap(apperr.KindIo, "open audio file", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIo, "stat audio file", err)
	}

	meta, err := tag.ReadFrom(file)
	if err != nil && !errors.Is(err, tag.ErrNoTagsFound) {
		e.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Failed to read tags")
		return nil, apperr.Wrap(apperr.KindMetadata, fmt.Sprintf("read tags from %s", path), err)
	}

	blocks := blocksFrom(meta)

	duration, err := e.calculateDuration(path, stat.Size())
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Failed to calculate duration, setting to 0")
		duration = 0
	}

	probe := &Probe{
		Duration:    duration,
		Bitrate:     deriveBitrate(stat.Size(), duration),
		Format:      strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Size:        stat.Size(),
		Title:       firstNonEmpty(blocks, Block.Title),
		Artist:      firstNonEmpty(blocks, Block.Artist),
		Album:       firstNonEmpty(blocks, Block.Album),
		TrackNumber: firstPositive(blocks, Block.Track),
		Year:        firstPositive(blocks, Block.Year),
		Blocks:      blocks,
	}

	probe.FullyTagged = probe.Title != "" && probe.Artist != "" && probe.Album != ""

	if probe.Title == "" {
		probe.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if probe.Artist == "" {
		probe.Artist = "Unknown Artist"
	}
	if probe.Album == "" {
		probe.Album = "Unknown Album"
	}

	e.logger.WithFields(logrus.Fields{
		"path":           path,
		"title":          probe.Title,
		"artist":         probe.Artist,
		"album":          probe.Album,
		"duration":       probe.Duration,
		"processingTime": time.Since(startTime),
	}).Debug("Successfully extracted metadata")

	return probe, nil
}

// IsAudioFile checks if a file is a supported audio format
func (e *Extractor) IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// deriveBitrate estimates the average bitrate in kbps from file size and
// duration when the container doesn't declare one.
func deriveBitrate(size int64, duration int) int {
	if duration <= 0 {
		return 0
	}
	return int(size * 8 / int64(duration) / 1000)
}

// calculateDuration calculates the duration of an audio file in seconds
func (e *Extractor) calculateDuration(path string, size int64) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return e.durationMP3(path)
	case ".flac":
		return e.durationFLAC(path)
	case ".wav":
		return e.durationWAV(path)
	case ".m4a":
		return e.durationM4A(path)
	case ".ogg":
		// No cheap header probe; assume a nominal VBR rate.
		return e.estimateFromFileSize(size, 192000)
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}

// MP3 duration using frame decoding; fallback to average bitrate estimation only if frames fail entirely.
func (e *Extractor) durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 { // could not decode any frame
				st, statErr := f.Stat()
				if statErr != nil {
					return 0, statErr
				}
				return e.estimateFromFileSize(st.Size(), 192000) // assume 192 kbps
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// FLAC duration via STREAMINFO metadata block
func (e *Extractor) durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return int(secs + 0.5), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration using go-audio/wav to read header
func (e *Extractor) durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	// Approximate using file size; full sample count may require decoding all samples.
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	headerSize := int64(44)
	pcmBytes := st.Size() - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	secs := float64(sampleFrames) / float64(dec.SampleRate)
	return int(secs + 0.5), nil
}

// M4A (AAC in MP4) minimal duration parsing: read 'mvhd' timescale & duration.
// Lightweight manual atom scan to avoid pulling large dep. Best-effort.
func (e *Extractor) durationM4A(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for {
		head := make([]byte, 8)
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		atom := string(head[4:8])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if atom == "moov" {
			// scan inside moov for mvhd
			limit := int64(size) - 8
			for read := int64(0); read < limit; {
				subHead := make([]byte, 8)
				if _, err := io.ReadFull(f, subHead); err != nil {
					return 0, err
				}
				subSize := binary.BigEndian.Uint32(subHead[0:4])
				subAtom := string(subHead[4:8])
				if subAtom == "mvhd" {
					version := make([]byte, 1)
					if _, err := io.ReadFull(f, version); err != nil {
						return 0, err
					}
					var skip int64
					if version[0] == 1 { // 64-bit
						skip = 3 + 8 + 8 // flags + creation + mod times (64-bit)
					} else {
						skip = 3 + 4 + 4 // flags + times (32-bit)
					}
					if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
						return 0, err
					}
					tsBuf := make([]byte, 4)
					if _, err := io.ReadFull(f, tsBuf); err != nil {
						return 0, err
					}
					timescale := binary.BigEndian.Uint32(tsBuf)
					durBuf := make([]byte, 4)
					if _, err := io.ReadFull(f, durBuf); err != nil {
						return 0, err
					}
					durUnits := binary.BigEndian.Uint32(durBuf)
					if timescale == 0 {
						return 0, fmt.Errorf("invalid timescale")
					}
					secs := float64(durUnits) / float64(timescale)
					return int(secs + 0.5), nil
				}
				// skip remainder of sub atom
				if subSize < 8 {
					return 0, fmt.Errorf("invalid sub-atom size")
				}
				if _, err := f.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
					return 0, err
				}
				read += int64(subSize)
			}
			break
		}
		// skip rest of atom
		if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("mvhd atom not found")
}

// estimateFromFileSize provides last-resort estimation if parsing fails.
func (e *Extractor) estimateFromFileSize(size int64, bitrate int) (int, error) {
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return int((size * 8) / int64(bitrate)), nil
}

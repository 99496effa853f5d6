package youtube

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"airwaves/internal/apperr"
)

// idPattern matches an 11-character YouTube video ID: the fixed-length
// opaque identifier the source names in its identifier syntax check.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateID reports whether identifier is a syntactically valid video ID.
func ValidateID(identifier string) bool {
	return idPattern.MatchString(identifier)
}

// Metadata is the result of a metadata lookup.
type Metadata struct {
	Title           string
	Channel         string
	ThumbnailURL    string
	DurationSeconds float64
}

// Extractor resolves a video identifier to metadata and opens a raw audio
// byte stream for it.
type Extractor interface {
	ExtractMetadata(ctx context.Context, identifier string) (Metadata, error)
	OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error)
}

// YTExtractor is an Extractor backed by kkdai/youtube.
type YTExtractor struct {
	client youtube.Client
}

// NewExtractor returns an Extractor that talks to YouTube directly.
func NewExtractor() *YTExtractor {
	return &YTExtractor{client: youtube.Client{}}
}

func (e *YTExtractor) resolve(ctx context.Context, identifier string) (*youtube.Video, error) {
	if !ValidateID(identifier) {
		return nil, apperr.E(apperr.InputInvalid, fmt.Sprintf("malformed video identifier %q", identifier), nil)
	}
	video, err := e.client.GetVideoContext(ctx, identifier)
	if err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "resolve video", err)
	}
	return video, nil
}

// ExtractMetadata implements Extractor.
func (e *YTExtractor) ExtractMetadata(ctx context.Context, identifier string) (Metadata, error) {
	video, err := e.resolve(ctx, identifier)
	if err != nil {
		return Metadata{}, err
	}

	thumb := ""
	if len(video.Thumbnails) > 0 {
		thumb = video.Thumbnails[len(video.Thumbnails)-1].URL
	}

	return Metadata{
		Title:           video.Title,
		Channel:         video.Author,
		ThumbnailURL:    thumb,
		DurationSeconds: video.Duration.Round(time.Second).Seconds(),
	}, nil
}

// OpenAudioStream implements Extractor. It selects the highest-quality
// audio-only format and returns its byte stream.
func (e *YTExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	video, err := e.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	var formats youtube.FormatList
	for _, f := range video.Formats.WithAudioChannels() {
		if strings.HasPrefix(f.MimeType, "audio/") {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return nil, apperr.E(apperr.ExternalUnavailable, "no audio-only format available", nil)
	}
	formats.Sort()
	best := formats[0]

	stream, _, err := e.client.GetStreamContext(ctx, video, &best)
	if err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "open audio stream", err)
	}
	return stream, nil
}

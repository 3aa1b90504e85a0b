package recording

import (
	"errors"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// Mime types understood by the manager.
const (
	MimeOggOpus  = "audio/ogg;codecs=opus"
	MimeWebMOpus = "audio/webm;codecs=opus"
	MimeWAV      = "audio/wav"
)

// DefaultMimeType is used when no preferred encoding is supported.
const DefaultMimeType = MimeWAV

// DefaultPreferences is the probe order for recording encodings.
var DefaultPreferences = []string{MimeOggOpus, MimeWebMOpus, MimeWAV}

// ErrUnsupported is returned when no encoder exists for a mime type.
var ErrUnsupported = errors.New("recording: unsupported mime type")

// Encoder turns microphone PCM into a container format.
type Encoder interface {
	// Encode consumes one chunk.
	Encode(chunk audioio.AudioChunk) error

	// Cut returns the bytes produced since the previous Cut.
	Cut() []byte

	// Close flushes buffered audio and returns the trailing bytes.
	Close() ([]byte, error)
}

// headerWriter is implemented by encoders whose container needs a header
// that depends on the total payload size.
type headerWriter interface {
	Header(dataLen int) []byte
}

// EncoderFactory creates an encoder for one recording.
type EncoderFactory func() (Encoder, error)

// Encoders maps mime types to factories.
type Encoders map[string]EncoderFactory

// DefaultEncoders returns the built-in encoders.
func DefaultEncoders() Encoders {
	return Encoders{
		MimeOggOpus: newOggEncoder,
		MimeWAV:     newWAVEncoder,
	}
}

// Supported reports whether an encoder is registered for mime.
func (e Encoders) Supported(mime string) bool {
	_, ok := e[mime]
	return ok
}

// Negotiate returns the first supported mime type from prefs, or
// DefaultMimeType when none is.
func (e Encoders) Negotiate(prefs []string) string {
	for _, mime := range prefs {
		if e.Supported(mime) {
			return mime
		}
	}
	return DefaultMimeType
}

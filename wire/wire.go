// Package wire implements the inbound frame codecs.
//
// Two codecs are supported:
//   - data-stream: one frame per line, "<code>:<json>\n"
//   - msgpack: 4-byte big-endian length prefix followed by a msgpack
//     map {type, payload}
//
// Decoders are lazy, ordered, single-pass and not restartable. Frames may
// span reads; partial input is buffered until complete. Any malformed
// input is a fatal *FrameError.
package wire

import (
	"io"
	"iter"
	"mime"
	"strings"

	"github.com/pithecene-io/conduit/types"
)

// Content types.
const (
	// ContentTypeDataStream is the default line-oriented codec.
	ContentTypeDataStream = "text/plain"
	// ContentTypeMsgpack selects the length-prefixed msgpack codec.
	ContentTypeMsgpack = "application/vnd.conduit.msgpack"
)

// MaxFrameSize is the maximum size of a single frame (16 MiB),
// including any framing bytes.
const MaxFrameSize = 16 * 1024 * 1024

// Decoder yields frames from a byte stream.
type Decoder interface {
	// Next returns the next frame.
	//
	// Errors:
	//   - io.EOF: stream ended cleanly (no more frames)
	//   - *FrameError: malformed input (fatal)
	//   - any other error: the underlying reader failed
	//
	// After a non-nil error every subsequent call returns the same error.
	Next() (types.Frame, error)
}

// Encoder writes frames to a byte stream.
type Encoder interface {
	Encode(frame types.Frame) error
}

// NewDecoderForContentType returns a decoder for the codec named by
// contentType. Unknown or empty content types use the data-stream codec.
func NewDecoderForContentType(contentType string, r io.Reader) Decoder {
	if isMsgpack(contentType) {
		return NewMsgpackDecoder(r)
	}
	return NewDataStreamDecoder(r)
}

// NewEncoderForContentType returns an encoder matching
// NewDecoderForContentType.
func NewEncoderForContentType(contentType string, w io.Writer) Encoder {
	if isMsgpack(contentType) {
		return NewMsgpackEncoder(w)
	}
	return NewDataStreamEncoder(w)
}

func isMsgpack(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	return mediaType == ContentTypeMsgpack
}

// All adapts a decoder to a single-use sequence.
// The sequence ends after io.EOF, or after yielding the first error.
func All(d Decoder) iter.Seq2[types.Frame, error] {
	return func(yield func(types.Frame, error) bool) {
		for {
			frame, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

// ReadAll drains a decoder. Intended for tests and offline replay.
func ReadAll(d Decoder) ([]types.Frame, error) {
	var frames []types.Frame
	for frame, err := range All(d) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

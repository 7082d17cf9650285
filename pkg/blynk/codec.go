package blynk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the fixed frame header in bytes.
const HeaderSize = 5

// MaxBodySize is the largest body a header can describe.
const MaxBodySize = 0xFFFF

// bodySeparator separates tokens inside hardware, property and internal bodies.
const bodySeparator = 0x00

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	// Command is the frame command code.
	Command Command

	// MessageID correlates a frame with its acknowledgment.
	MessageID uint16

	// Length is the body length for regular frames and the status code for
	// response frames.
	Length uint16

	// Body is the frame payload. For response frames it is everything after
	// the header.
	Body []byte

	// Unknown is set when the command code, or the status of a response
	// frame, is not recognized.
	Unknown bool
}

// IsResponse reports whether f is a response frame.
func (f Frame) IsResponse() bool {
	return f.Command == CommandResponse
}

// Status returns the status code of a response frame.
// The value is meaningless for other commands.
func (f Frame) Status() Status {
	return Status(f.Length)
}

// String returns a short human-readable description of the frame.
func (f Frame) String() string {
	if f.IsResponse() {
		return fmt.Sprintf("%s id=%d status=%s body=%d", f.Command, f.MessageID, f.Status(), len(f.Body))
	}
	return fmt.Sprintf("%s id=%d len=%d", f.Command, f.MessageID, f.Length)
}

// Decode splits buf into frames.
//
// It returns the decoded frames in arrival order together with the number
// of leading bytes they occupied. A trailing partial header or a body
// shorter than its declared length ends decoding without producing a frame
// for it. A response frame consumes the rest of the buffer.
func Decode(buf []byte) ([]Frame, int) {
	var frames []Frame
	offset := 0

	for len(buf)-offset >= HeaderSize {
		cmd := Command(buf[offset])
		msgID := binary.BigEndian.Uint16(buf[offset+1 : offset+3])
		length := binary.BigEndian.Uint16(buf[offset+3 : offset+5])
		offset += HeaderSize

		if cmd == CommandResponse {
			body := cloneBytes(buf[offset:])
			frames = append(frames, Frame{
				Command:   cmd,
				MessageID: msgID,
				Length:    length,
				Body:      body,
				Unknown:   !Status(length).Known(),
			})
			return frames, len(buf)
		}

		end := offset + int(length)
		if end > len(buf) {
			// Truncated body: the header is not counted as consumed.
			return frames, offset - HeaderSize
		}

		frames = append(frames, Frame{
			Command:   cmd,
			MessageID: msgID,
			Length:    length,
			Body:      cloneBytes(buf[offset:end]),
			Unknown:   !cmd.Known(),
		})
		offset = end
	}

	return frames, offset
}

// EncodeCommand encodes a regular frame. The length field limits the body to
// MaxBodySize bytes; longer bodies are truncated, so callers encoding
// untrusted input must check the size first.
func EncodeCommand(cmd Command, msgID uint16, body []byte) []byte {
	if len(body) > MaxBodySize {
		body = body[:MaxBodySize]
	}
	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(cmd)
	binary.BigEndian.PutUint16(out[1:3], msgID)
	binary.BigEndian.PutUint16(out[3:5], uint16(len(body)))
	copy(out[HeaderSize:], body)
	return out
}

// EncodeResponse encodes a response frame carrying status and an optional body.
// The header holds the status instead of a length, so the body is not limited
// by MaxBodySize and is never truncated. The receiver takes everything after
// the header as the body, which makes a response the last frame of a write.
func EncodeResponse(msgID uint16, status Status, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(CommandResponse)
	binary.BigEndian.PutUint16(out[1:3], msgID)
	binary.BigEndian.PutUint16(out[3:5], uint16(status))
	copy(out[HeaderSize:], body)
	return out
}

// SuccessResponse returns the zero-body OK acknowledgment for msgID.
// Devices expect one for every frame they send; without it the firmware
// treats the link as dead.
func SuccessResponse(msgID uint16) []byte {
	return EncodeResponse(msgID, StatusOK, nil)
}

// SplitBody splits a NUL-separated body into its tokens.
// An empty body yields no tokens.
func SplitBody(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	parts := bytes.Split(body, []byte{bodySeparator})
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = string(p)
	}
	return tokens
}

// JoinBody joins tokens into a NUL-separated body.
func JoinBody(tokens ...string) []byte {
	var b bytes.Buffer
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(bodySeparator)
		}
		b.WriteString(t)
	}
	return b.Bytes()
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

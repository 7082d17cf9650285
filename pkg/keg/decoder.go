package keg

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/keglink/keglink-go/pkg/blynk"
)

// Decode errors.
var (
	// ErrMalformedBody indicates a body with an unexpected token count.
	ErrMalformedBody = errors.New("malformed body")

	// ErrUnmappedPin indicates a pin write with no canonical field.
	ErrUnmappedPin = errors.New("unmapped pin")

	// ErrNoPayload indicates a frame that never carries data.
	ErrNoPayload = errors.New("frame carries no data")
)

// DecodeError describes why a frame produced no reading.
type DecodeError struct {
	Command   blynk.Command
	MessageID uint16
	Body      []byte
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s id=%d body=%q: %v", e.Command, e.MessageID, e.Body, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reading is one semantic value extracted from a frame.
type Reading struct {
	// Field is the canonical field name ("id", "internal" or a pin field).
	Field string

	// Value is the raw value as sent by the device.
	Value string

	// Pin identifies where the value came from. For pin writes it is the pin
	// number; for identity frames it is derived from the message id.
	Pin string

	// Kind is the body kind of pin writes ("vw") or BareKind.
	Kind string

	// Attributes holds the key/value pairs of internal frames.
	Attributes map[string]string
}

// IsID reports whether r announces the device identity.
func (r Reading) IsID() bool { return r.Field == FieldID }

// IsInternal reports whether r carries device-internal metadata.
func (r Reading) IsInternal() bool { return r.Field == FieldInternal }

// Decoder turns frames into readings.
// The zero value drops unmapped pins.
type Decoder struct {
	// IncludeUnknown surfaces unmapped pin writes under UnknownFieldName
	// instead of dropping them.
	IncludeUnknown bool
}

// Decode returns the reading carried by f, if any.
func (d Decoder) Decode(f blynk.Frame) (Reading, bool) {
	r, err := d.DecodeStrict(f)
	if err != nil {
		return Reading{}, false
	}
	return r, true
}

// DecodeStrict is like Decode but reports why no reading was produced.
func (d Decoder) DecodeStrict(f blynk.Frame) (Reading, error) {
	switch f.Command {
	case blynk.CommandGetSharedDash:
		return Reading{
			Field: FieldID,
			Value: string(f.Body),
			Pin:   "msg:" + strconv.Itoa(int(f.MessageID)),
		}, nil

	case blynk.CommandInternal:
		return Reading{
			Field:      FieldInternal,
			Attributes: parseInternal(blynk.SplitBody(f.Body)),
		}, nil

	case blynk.CommandHardware, blynk.CommandProperty:
		return d.decodePinWrite(f)

	default:
		return Reading{}, &DecodeError{Command: f.Command, MessageID: f.MessageID, Body: f.Body, Err: ErrNoPayload}
	}
}

// DecodeAll decodes a batch of frames, keeping arrival order and skipping
// frames without a reading.
func (d Decoder) DecodeAll(frames []blynk.Frame) []Reading {
	readings := make([]Reading, 0, len(frames))
	for _, f := range frames {
		if r, ok := d.Decode(f); ok {
			readings = append(readings, r)
		}
	}
	return readings
}

func (d Decoder) decodePinWrite(f blynk.Frame) (Reading, error) {
	tokens := blynk.SplitBody(f.Body)

	var key PinKey
	var value string
	switch len(tokens) {
	case 1:
		key = PinKey{Command: f.Command, Kind: BareKind, Pin: BarePin}
		value = tokens[0]
	case 3:
		key = PinKey{Command: f.Command, Kind: tokens[0], Pin: tokens[1]}
		value = tokens[2]
	default:
		return Reading{}, &DecodeError{
			Command:   f.Command,
			MessageID: f.MessageID,
			Body:      f.Body,
			Err:       fmt.Errorf("%w: %d tokens", ErrMalformedBody, len(tokens)),
		}
	}

	field, ok := FieldForPin(key)
	if !ok {
		if !d.IncludeUnknown {
			return Reading{}, &DecodeError{
				Command:   f.Command,
				MessageID: f.MessageID,
				Body:      f.Body,
				Err:       fmt.Errorf("%w: %s", ErrUnmappedPin, key),
			}
		}
		field = UnknownFieldName(key)
	}

	return Reading{Field: field, Value: value, Pin: key.Pin, Kind: key.Kind}, nil
}

// parseInternal pairs alternating key/value tokens. A trailing key without
// a value maps to the empty string.
func parseInternal(tokens []string) map[string]string {
	attrs := make(map[string]string, len(tokens)/2+1)
	for i := 0; i < len(tokens); i += 2 {
		if tokens[i] == "" {
			continue
		}
		if i+1 < len(tokens) {
			attrs[tokens[i]] = tokens[i+1]
		} else {
			attrs[tokens[i]] = ""
		}
	}
	return attrs
}

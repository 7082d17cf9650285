package keg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keglink/keglink-go/pkg/blynk"
)

func frame(cmd blynk.Command, id uint16, body []byte) blynk.Frame {
	return blynk.Frame{Command: cmd, MessageID: id, Length: uint16(len(body)), Body: body}
}

func TestDecodeSharedDashIsIdentity(t *testing.T) {
	r, ok := Decoder{}.Decode(frame(blynk.CommandGetSharedDash, 12, []byte("mydevice123")))
	require.True(t, ok)
	assert.True(t, r.IsID())
	assert.Equal(t, "mydevice123", r.Value)
	assert.Equal(t, "msg:12", r.Pin)
}

func TestDecodeInternal(t *testing.T) {
	body := blynk.JoinBody("ver", "0.4.7", "h-beat", "10", "dev", "ESP8266", "dangling")
	r, ok := Decoder{}.Decode(frame(blynk.CommandInternal, 1, body))
	require.True(t, ok)
	assert.True(t, r.IsInternal())
	assert.Equal(t, map[string]string{
		"ver":      "0.4.7",
		"h-beat":   "10",
		"dev":      "ESP8266",
		"dangling": "",
	}, r.Attributes)
}

func TestDecodeHardwarePins(t *testing.T) {
	tests := []struct {
		pin   string
		field string
	}{
		{"51", FieldAmountLeft},
		{"56", FieldTemperature},
		{"71", FieldUnit},
		{"75", FieldMeasureUnit},
		{"88", FieldKegModeCO2Beer},
		{"93", FieldFirmwareVersion},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			body := blynk.JoinBody(KindVirtualWrite, tt.pin, "42")
			r, ok := Decoder{}.Decode(frame(blynk.CommandHardware, 3, body))
			require.True(t, ok)
			assert.Equal(t, tt.field, r.Field)
			assert.Equal(t, "42", r.Value)
			assert.Equal(t, tt.pin, r.Pin)
		})
	}
}

func TestDecodeProperty(t *testing.T) {
	r, ok := Decoder{}.Decode(frame(blynk.CommandProperty, 3, blynk.JoinBody("51", "max", "19")))
	require.True(t, ok)
	assert.Equal(t, FieldMaxAmount, r.Field)
	assert.Equal(t, "19", r.Value)
}

func TestDecodeUnknownPin(t *testing.T) {
	f := frame(blynk.CommandHardware, 3, blynk.JoinBody("vw", "999", "1"))

	_, ok := Decoder{}.Decode(f)
	assert.False(t, ok, "unmapped pins are dropped by default")

	_, err := Decoder{}.DecodeStrict(f)
	assert.True(t, errors.Is(err, ErrUnmappedPin))

	r, ok := Decoder{IncludeUnknown: true}.Decode(f)
	require.True(t, ok)
	assert.Equal(t, "unknown_20_vw_999", r.Field)
	assert.Equal(t, "1", r.Value)
}

func TestDecodeBareValue(t *testing.T) {
	f := frame(blynk.CommandHardware, 3, []byte("17"))

	_, ok := Decoder{}.Decode(f)
	assert.False(t, ok)

	r, ok := Decoder{IncludeUnknown: true}.Decode(f)
	require.True(t, ok)
	assert.Equal(t, BareKind, r.Kind)
	assert.Equal(t, BarePin, r.Pin)
	assert.Equal(t, "17", r.Value)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decoder{IncludeUnknown: true}.DecodeStrict(frame(blynk.CommandHardware, 3, blynk.JoinBody("vw", "51")))
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.True(t, errors.Is(err, ErrMalformedBody))
	assert.Equal(t, blynk.CommandHardware, decErr.Command)
}

func TestDecodeNoPayloadCommands(t *testing.T) {
	for _, cmd := range []blynk.Command{blynk.CommandPing, blynk.CommandNotify, blynk.CommandLogin, blynk.Command(222)} {
		_, ok := Decoder{IncludeUnknown: true}.Decode(frame(cmd, 1, []byte("x")))
		assert.False(t, ok, "command %s", cmd)
	}
}

func TestDecodeAllKeepsOrder(t *testing.T) {
	frames := []blynk.Frame{
		frame(blynk.CommandGetSharedDash, 1, []byte("dev")),
		frame(blynk.CommandPing, 2, nil),
		frame(blynk.CommandHardware, 3, blynk.JoinBody("vw", "51", "10")),
		frame(blynk.CommandHardware, 4, blynk.JoinBody("vw", "56", "4.5")),
	}
	readings := Decoder{}.DecodeAll(frames)
	require.Len(t, readings, 3)
	assert.Equal(t, FieldID, readings[0].Field)
	assert.Equal(t, FieldAmountLeft, readings[1].Field)
	assert.Equal(t, FieldTemperature, readings[2].Field)
}

package log

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/keglink/keglink-go/pkg/blynk"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestMultiLoggerFansOutAndSkipsNil(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{ConnectionID: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("a=%d b=%d, want 1 each", len(a.events), len(b.events))
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return non-nil logger unchanged")
	}
}

func TestSlogAdapterMessage(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	a := NewSlogAdapter(slog.New(h))

	a.Log(Event{
		ConnectionID: "c1",
		DeviceID:     "keg-1",
		Layer:        LayerWire,
		Message: &MessageEvent{
			Command:   blynk.CommandHardware,
			MessageID: 9,
			Field:     "keg_weight",
			Value:     "12.5",
		},
	})

	out := buf.String()
	for _, want := range []string{"conn_id=c1", "device_id=keg-1", "msg_id=9", "field=keg_weight", "value=12.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestSlogAdapterFrameHex(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	a := NewSlogAdapter(slog.New(h))

	a.Log(Event{Frame: &FrameEvent{Size: 2, Data: []byte{0xab, 0xcd}, Discarded: 3}})

	out := buf.String()
	if !strings.Contains(out, "hex=abcd") || !strings.Contains(out, "discarded=3") {
		t.Errorf("unexpected output: %s", out)
	}
}

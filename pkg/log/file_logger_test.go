package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
)

func TestFileLoggerCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures", "devices.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("capture file not created: %v", err)
	}
	if logger.Path() != path {
		t.Errorf("Path() = %q, want %q", logger.Path(), path)
	}
}

func TestFileLoggerRoundTripThroughReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.klog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	frame := blynk.Frame{Command: blynk.CommandHardware, MessageID: 7, Length: 8, Body: []byte("vw\x0051\x001")}
	msg := NewMessageEvent(frame)
	msg.Field, msg.Value = "amount_left", "1"

	logger.Log(Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		DeviceID:     "keg-1",
		Message:      msg,
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.Message == nil {
		t.Fatal("Message is nil")
	}
	if got.Message.Command != blynk.CommandHardware || got.Message.MessageID != 7 {
		t.Errorf("Message = %+v", got.Message)
	}
	if got.Message.Field != "amount_left" || got.Message.Value != "1" {
		t.Errorf("decoded reading = %s=%s", got.Message.Field, got.Message.Value)
	}
	if got.Message.Status != nil {
		t.Errorf("Status = %v, want nil for command frame", *got.Message.Status)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after last event = %v, want io.EOF", err)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.klog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	logger.Log(Event{ConnectionID: "late"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("capture file has %d bytes, want 0", len(data))
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.klog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				logger.Log(Event{
					Timestamp: time.Now(),
					Category:  CategoryMessage,
					Frame:     NewFrameEvent([]byte{0x14, 0x00, 0x01, 0x00, 0x00}),
				})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		if _, err := r.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next failed after %d events: %v", count, err)
		}
		count++
	}
	if count != workers*perWorker {
		t.Errorf("read %d events, want %d", count, workers*perWorker)
	}
	if logger.Errors() != 0 {
		t.Errorf("Errors() = %d, want 0", logger.Errors())
	}
}

package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voiceguide/pkg/audio"
	audiomock "github.com/MrWong99/voiceguide/pkg/audio/mock"
	s2smock "github.com/MrWong99/voiceguide/pkg/provider/s2s/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCapture_SendsFramesInOrder(t *testing.T) {
	t.Parallel()

	devices := &audiomock.Devices{}
	in, _ := devices.OpenInput(context.Background(), audio.Format{SampleRate: 16000, Channels: 1}, 4)
	sess := s2smock.NewSession()

	c := NewCapture(in, 16000, 8, nil, nil)
	if err := c.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	dev := devices.LastInput()
	dev.Emit([]float32{0.5, -0.5, 1, -1})
	dev.Emit([]float32{0, 0, 0, 0})

	waitFor(t, "two blobs", func() bool { return sess.AudioCount() == 2 })

	c.Stop()
	blob := sess.SentAudio[0]
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	frame, err := audio.DecodeBlob(blob, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF, 0x7F, 0x00, 0x80}
	if string(frame.Data) != string(want) {
		t.Errorf("PCM = % x, want % x", frame.Data, want)
	}
}

func TestCapture_StopDiscardsQueuedFrames(t *testing.T) {
	t.Parallel()

	in := &audiomock.InputDevice{}
	sess := s2smock.NewSession()
	c := NewCapture(in, 16000, 4, nil, nil)

	// Fill the queue without a running sender.
	for range 4 {
		c.onFrame([]float32{0.1})
	}
	c.Stop()

	if err := c.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in.Emit([]float32{0.2})
	time.Sleep(20 * time.Millisecond)
	if n := sess.AudioCount(); n != 0 {
		t.Errorf("sent %d frames after Stop, want 0", n)
	}
}

func TestCapture_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	c := NewCapture(&audiomock.InputDevice{}, 16000, 1, nil, nil)
	c.onFrame([]float32{0.1})
	c.onFrame([]float32{0.2})
	if got := len(c.frames); got != 1 {
		t.Errorf("queued %d frames, want 1", got)
	}
	c.Stop()
}

func TestCapture_StartError(t *testing.T) {
	t.Parallel()

	in := &audiomock.InputDevice{StartErr: errors.New("no mic")}
	c := NewCapture(in, 16000, 0, nil, nil)
	if err := c.Start(context.Background(), s2smock.NewSession()); err == nil {
		t.Fatal("expected error")
	}
	c.Stop()
}

func TestCapture_ClosedSessionIsQuiet(t *testing.T) {
	t.Parallel()

	in := &audiomock.InputDevice{}
	sess := s2smock.NewSession()
	sess.End(nil)
	c := NewCapture(in, 16000, 0, nil, nil)
	if err := c.Start(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	in.Emit([]float32{0.1})
	c.Stop()
	if sess.AudioCount() != 0 {
		t.Error("closed session recorded audio")
	}
}

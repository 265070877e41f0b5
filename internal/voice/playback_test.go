package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/audio/mock"
)

// chunk returns n samples of base64 PCM16 as the model would send them.
func chunk(n int) string {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return base64.StdEncoding.EncodeToString(audio.FloatToPCM16(samples))
}

func TestPlayback_GapFreeScheduling(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	ctx := context.Background()

	lengths := []int{2400, 480, 4800, 1}
	var want int64
	for i, n := range lengths {
		start, err := p.Enqueue(ctx, chunk(n), audio.PlaybackSampleRate)
		if err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
		if start != want {
			t.Errorf("chunk %d start = %d, want %d", i, start, want)
		}
		want += int64(n)
	}

	sched := out.Scheduled()
	if len(sched) != len(lengths) {
		t.Fatalf("scheduled %d chunks, want %d", len(sched), len(lengths))
	}
	for k := 1; k < len(sched); k++ {
		if sched[k].Start != sched[k-1].End() {
			t.Errorf("gap between chunk %d and %d: %d != %d", k-1, k, sched[k].Start, sched[k-1].End())
		}
	}
	if p.Cursor() != want {
		t.Errorf("Cursor() = %d, want %d", p.Cursor(), want)
	}
	if !p.Speaking() {
		t.Error("Speaking() = false after scheduling")
	}
}

func TestPlayback_LateChunkStartsAtDevicePosition(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	ctx := context.Background()

	if _, err := p.Enqueue(ctx, chunk(100), 0); err != nil {
		t.Fatal(err)
	}
	out.Advance(500)

	start, err := p.Enqueue(ctx, chunk(100), 0)
	if err != nil {
		t.Fatal(err)
	}
	if start != 500 {
		t.Errorf("start = %d, want device position 500", start)
	}
	if p.Cursor() != 600 {
		t.Errorf("Cursor() = %d, want 600", p.Cursor())
	}
}

func TestPlayback_SpeakingTracksCompletion(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	ctx := context.Background()

	_, _ = p.Enqueue(ctx, chunk(100), 0)
	_, _ = p.Enqueue(ctx, chunk(100), 0)

	out.Advance(100)
	if !p.Speaking() || p.Pending() != 1 {
		t.Fatalf("after first chunk: speaking=%v pending=%d, want true/1", p.Speaking(), p.Pending())
	}
	out.Advance(100)
	if p.Speaking() || p.Pending() != 0 {
		t.Fatalf("after second chunk: speaking=%v pending=%d, want false/0", p.Speaking(), p.Pending())
	}
}

func TestPlayback_Interrupt(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	ctx := context.Background()

	for range 3 {
		if _, err := p.Enqueue(ctx, chunk(1000), 0); err != nil {
			t.Fatal(err)
		}
	}
	out.Advance(10)

	if n := p.Interrupt(); n != 3 {
		t.Errorf("Interrupt() = %d, want 3", n)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", p.Pending())
	}
	if p.Cursor() != 0 {
		t.Errorf("Cursor() = %d, want 0", p.Cursor())
	}
	if p.Speaking() {
		t.Error("Speaking() = true after interrupt")
	}
	for i, s := range out.Scheduled() {
		if !s.Stopped {
			t.Errorf("chunk %d not stopped", i)
		}
	}

	// The next chunk starts at the device clock, not after the cut audio.
	start, err := p.Enqueue(ctx, chunk(10), 0)
	if err != nil {
		t.Fatal(err)
	}
	if start != 10 {
		t.Errorf("start after interrupt = %d, want 10", start)
	}

	// Stopped voices never report completion.
	out.Advance(5000)
	if p.Pending() != 0 || p.Speaking() {
		t.Errorf("pending=%d speaking=%v after drain, want 0/false", p.Pending(), p.Speaking())
	}
}

func TestPlayback_DecodeErrorIsIsolated(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	ctx := context.Background()

	_, _ = p.Enqueue(ctx, chunk(100), 0)

	if _, err := p.Enqueue(ctx, "%%% not base64", 0); err == nil {
		t.Error("expected error for invalid base64")
	}
	odd := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := p.Enqueue(ctx, odd, 0); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("err = %v, want ErrOddLength", err)
	}

	start, err := p.Enqueue(ctx, chunk(50), 0)
	if err != nil {
		t.Fatal(err)
	}
	if start != 100 {
		t.Errorf("start = %d, want 100: bad chunks must not move the cursor", start)
	}
	if len(out.Scheduled()) != 2 {
		t.Errorf("scheduled %d chunks, want 2", len(out.Scheduled()))
	}
}

func TestPlayback_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)

	if _, err := p.Enqueue(context.Background(), chunk(160), 16000); err != nil {
		t.Fatal(err)
	}
	if got := len(out.Scheduled()[0].Samples); got != 240 {
		t.Errorf("scheduled %d samples, want 240", got)
	}
}

func TestPlayback_ScheduleError(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{ScheduleErr: errors.New("device lost")}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)

	if _, err := p.Enqueue(context.Background(), chunk(10), 0); err == nil {
		t.Fatal("expected schedule error")
	}
	if p.Speaking() || p.Cursor() != 0 {
		t.Errorf("speaking=%v cursor=%d, want false/0", p.Speaking(), p.Cursor())
	}
}

func TestPlayback_CloseRejectsChunks(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := NewPlayback(out, audio.PlaybackSampleRate, nil, nil)
	_, _ = p.Enqueue(context.Background(), chunk(10), 0)

	p.Close()
	if _, err := p.Enqueue(context.Background(), chunk(10), 0); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
	if !out.Scheduled()[0].Stopped {
		t.Error("Close did not stop the scheduled chunk")
	}
}

package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/pkg/audio"
)

// Playback decodes model audio and schedules it back-to-back on an output
// device. It owns every scheduled [audio.Voice]; none escape the type.
//
// The cursor is the device position at which the next chunk should start.
// Each chunk starts at max(cursor, device position) so bursts of chunks queue
// without gaps while a late chunk starts immediately instead of in the past.
type Playback struct {
	out     audio.OutputDevice
	rate    int
	metrics *observe.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	cursor   int64
	voices   map[uint64]audio.Voice
	nextID   uint64
	speaking bool
	closed   bool
}

// NewPlayback returns a Playback scheduling on out, which runs at rate Hz.
func NewPlayback(out audio.OutputDevice, rate int, metrics *observe.Metrics, logger *slog.Logger) *Playback {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Playback{
		out:     out,
		rate:    rate,
		metrics: metrics,
		logger:  logger,
		voices:  make(map[uint64]audio.Voice),
	}
}

// Enqueue decodes one base64 PCM16 chunk at sampleRate Hz (0 means the device
// rate) and schedules it. It returns the device position the chunk starts at.
// A chunk that fails to decode is logged, counted and dropped; the playback
// state is left untouched.
func (p *Playback) Enqueue(ctx context.Context, data string, sampleRate int) (int64, error) {
	samples, err := p.decode(data, sampleRate)
	if err != nil {
		if p.metrics != nil {
			p.metrics.DecodeErrors.Add(ctx, 1)
		}
		p.logger.Warn("voice: dropping undecodable audio chunk", "err", err)
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrNotOpen
	}

	start := max(p.cursor, p.out.Position())
	id := p.nextID
	p.nextID++
	v, err := p.out.Schedule(samples, start, func() { p.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("voice: schedule chunk: %w", err)
	}
	p.voices[id] = v
	p.cursor = start + int64(len(samples))
	p.speaking = true
	if p.metrics != nil {
		p.metrics.ChunksScheduled.Add(ctx, 1)
	}
	return start, nil
}

func (p *Playback) decode(data string, sampleRate int) ([]float32, error) {
	pcm, err := audio.DecodeBase64PCM(data)
	if err != nil {
		return nil, err
	}
	if sampleRate > 0 && sampleRate != p.rate {
		pcm = audio.ResampleMono16(pcm, sampleRate, p.rate)
	}
	return audio.PCM16ToFloat(pcm)
}

// ended runs on the device's completion path.
func (p *Playback) ended(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.voices[id]; !ok {
		return
	}
	delete(p.voices, id)
	if len(p.voices) == 0 {
		p.speaking = false
	}
}

// Interrupt stops every scheduled chunk, empties the set, resets the cursor
// and marks playback as not speaking. It reports how many chunks were cut.
func (p *Playback) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interruptLocked()
}

func (p *Playback) interruptLocked() int {
	n := len(p.voices)
	for id, v := range p.voices {
		v.Stop()
		delete(p.voices, id)
	}
	p.cursor = 0
	p.speaking = false
	return n
}

// Close interrupts playback and rejects further chunks. It does not close
// the output device.
func (p *Playback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptLocked()
	p.closed = true
}

// Speaking reports whether any scheduled chunk is still playing.
func (p *Playback) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Pending returns the number of scheduled chunks that have not finished.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.voices)
}

// Cursor returns the position at which the next chunk would be queued.
func (p *Playback) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// defaultSendQueue is the number of captured frames that may wait for the
// sender before new frames are dropped.
const defaultSendQueue = 16

// Capture forwards microphone frames to a session. The device callback only
// hands frames to a buffered queue; a single sender goroutine encodes and
// sends them in capture order, so a slow network never stalls the audio
// thread.
type Capture struct {
	in      audio.InputDevice
	rate    int
	metrics *observe.Metrics
	logger  *slog.Logger

	frames chan []float32
	done   chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCapture returns a Capture reading from in at rate Hz with room for queue
// frames in flight. A non-positive queue uses the default depth.
func NewCapture(in audio.InputDevice, rate, queue int, metrics *observe.Metrics, logger *slog.Logger) *Capture {
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	if queue <= 0 {
		queue = defaultSendQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		in:      in,
		rate:    rate,
		metrics: metrics,
		logger:  logger,
		frames:  make(chan []float32, queue),
		done:    make(chan struct{}),
	}
}

// Start begins capture and sends every frame to sess until Stop.
func (c *Capture) Start(ctx context.Context, sess s2s.SessionHandle) error {
	c.wg.Add(1)
	go c.sendLoop(ctx, sess)
	if err := c.in.Start(c.onFrame); err != nil {
		c.Stop()
		return err
	}
	return nil
}

// onFrame runs on the device callback and must not block.
func (c *Capture) onFrame(samples []float32) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.frames <- samples:
	default:
		if c.metrics != nil {
			c.metrics.FramesDropped.Add(context.Background(), 1)
		}
	}
}

func (c *Capture) sendLoop(ctx context.Context, sess s2s.SessionHandle) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case samples := <-c.frames:
			// Stop may have raced the receive; queued frames are never sent
			// after it.
			select {
			case <-c.done:
				return
			default:
			}
			c.send(ctx, sess, samples)
		}
	}
}

func (c *Capture) send(ctx context.Context, sess s2s.SessionHandle, samples []float32) {
	blob := audio.EncodeBlob(audio.NewFrame(samples, c.rate))
	if err := sess.SendAudio(blob); err != nil {
		if errors.Is(err, s2s.ErrSessionClosed) {
			return
		}
		if c.metrics != nil {
			c.metrics.SendErrors.Add(ctx, 1)
		}
		c.logger.Debug("voice: send audio frame", "err", err)
		return
	}
	if c.metrics != nil {
		c.metrics.FramesSent.Add(ctx, 1)
	}
}

// Stop halts the sender and discards queued frames. It does not close the
// input device. Safe to call more than once.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		for {
			select {
			case <-c.frames:
				if c.metrics != nil {
					c.metrics.FramesDropped.Add(context.Background(), 1)
				}
			default:
				return
			}
		}
	})
}

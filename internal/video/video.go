// Package video implements an on-demand MJPEG capture source built
// directly on the V4L2 ioctl/mmap interface, since no V4L2 client library
// covers this narrow a concern. Capture only runs while at least one
// external subscriber is watching.
package video

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/config"
	"github.com/katyo/ukvm/internal/latest"
)

const pollInterval = 500 * time.Millisecond

// minFrameBytes gates out empty/sentinel buffers a capture device
// occasionally produces at stream start.
const minFrameBytes = 4

// capture is the subset of device control a Source depends on, so tests can
// substitute an in-memory fake instead of a real V4L2 node.
type capture interface {
	streamOn() error
	streamOff() error
	// dequeue blocks until a frame is available or an error occurs. A real
	// device ignores stop: VIDIOC_DQBUF cannot be interrupted from another
	// goroutine, so shutdown there waits for STREAMOFF or the next frame;
	// fakes used in tests honor it so teardown doesn't hang.
	dequeue(stop <-chan struct{}) ([]byte, error)
	close()
}

// Source owns one V4L2 capture device and streams MJPEG frames onto a
// latest-frame cell only while subscribed.
type Source struct {
	dev capture

	frame       *latest.Value[[]byte]
	subscribers atomic.Int64 // starts at 1: the source's own standing reference

	stop chan struct{}
	done chan struct{}
}

// New opens cfg.Device, verifies capture+MJPEG support, negotiates
// cfg.Width×cfg.Height, and starts the on-demand capture loop.
func New(cfg *config.VideoConfig) (*Source, error) {
	dev, err := openV4L2Device(cfg.Device, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return newWithCapture(dev), nil
}

func newWithCapture(dev capture) *Source {
	s := &Source{
		dev:   dev,
		frame: latest.NewValue[[]byte](nil),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.subscribers.Store(1)
	go s.run()
	return s
}

// VideoSink is a fresh subscription to the latest captured frame. Release
// must be called when the consumer stops watching, so the source can stop
// streaming once nobody is left.
type VideoSink struct {
	sub     *latest.Subscription[[]byte]
	release func()
	once    bool
}

// Next blocks for the next published frame.
func (s *VideoSink) Next(stop <-chan struct{}) ([]byte, bool) { return s.sub.Next(stop) }

// Close releases this subscriber's hold on the source, allowing capture to
// stop once the last external subscriber releases.
func (s *VideoSink) Close() {
	if s.once {
		return
	}
	s.once = true
	s.release()
}

// Frames returns a fresh subscription to the capture stream, incrementing
// the subscriber count that drives the on-demand state machine.
func (s *Source) Frames() *VideoSink {
	s.subscribers.Add(1)
	sub := s.frame.Subscribe()
	_, _ = sub.Next(nil) // consume the current frame so Next waits for a newly published one
	return &VideoSink{
		sub: sub,
		release: func() {
			s.subscribers.Add(-1)
		},
	}
}

// run drives the capture lifecycle: streaming starts only once a second
// subscriber (beyond the source's own standing reference) appears, and
// stops once it's down to one again.
func (s *Source) run() {
	defer close(s.done)
	defer s.dev.close()

	streaming := false

	for {
		select {
		case <-s.stop:
			if streaming {
				_ = s.dev.streamOff()
			}
			return
		default:
		}

		count := s.subscribers.Load()

		switch {
		case !streaming && count <= 1:
			time.Sleep(pollInterval)

		case !streaming && count > 1:
			if err := s.dev.streamOn(); err != nil {
				log.Warn().Err(err).Msg("video: STREAMON failed, retrying")
				time.Sleep(pollInterval)
				continue
			}
			streaming = true

		case streaming && count < 2:
			if err := s.dev.streamOff(); err != nil {
				log.Warn().Err(err).Msg("video: STREAMOFF failed")
			}
			streaming = false

		case streaming && count >= 2:
			frame, err := s.dev.dequeue(s.stop)
			if err != nil {
				log.Warn().Err(err).Msg("video: frame read failed, stopping stream")
				_ = s.dev.streamOff()
				streaming = false
				time.Sleep(pollInterval)
				continue
			}
			if len(frame) > minFrameBytes {
				s.frame.Set(frame)
			}
		}
	}
}

// Close stops capture and releases the device.
func (s *Source) Close() error {
	close(s.stop)
	s.frame.Close()
	<-s.done
	return nil
}

func (s *Source) String() string {
	return fmt.Sprintf("video.Source(subscribers=%d)", s.subscribers.Load())
}

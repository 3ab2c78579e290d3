package face

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// FramePusher is implemented by cameras that receive frames pushed from the
// client rather than pulling from local hardware.
type FramePusher interface {
	Push(frame image.Image)
}

// FrameBuffer is the shipped Camera implementation for the HTTP service:
// the client streams video frames to the API and the buffer keeps the most
// recent one. Capture then reads whatever frame is current.
type FrameBuffer struct {
	mu     sync.Mutex
	frame  image.Image
	denied bool
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Deny makes subsequent RequestStream calls fail, mirroring a revoked
// camera permission.
func (b *FrameBuffer) Deny(denied bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denied = denied
}

// Push replaces the buffered frame.
func (b *FrameBuffer) Push(frame image.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = frame
}

func (b *FrameBuffer) RequestStream(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.denied {
		return nil, fmt.Errorf("camera permission denied")
	}
	return &bufferStream{buffer: b}, nil
}

type bufferStream struct {
	mu      sync.Mutex
	buffer  *FrameBuffer
	stopped bool
}

func (s *bufferStream) Frame() (image.Image, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, fmt.Errorf("stream is stopped")
	}

	s.buffer.mu.Lock()
	frame := s.buffer.frame
	s.buffer.mu.Unlock()
	if frame == nil {
		return nil, fmt.Errorf("no frame received yet")
	}
	return frame, nil
}

func (s *bufferStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

package poller

import (
	"context"
	"image"
	"math"
	"time"
)

// Animation shape. One full icon revolution over frameCount frames, one
// frame every frameDelay, eased so the spin starts and ends gently.
const (
	frameCount = 36
	frameDelay = 20 * time.Millisecond
)

// FrameSink receives rendered animation frames.
type FrameSink interface {
	Frame(img *image.RGBA, index int)
	// Done restores the resting icon after the spin.
	Done()
}

// ease maps linear progress to eased progress.
func ease(x float64) float64 {
	return (1 - math.Sin(math.Pi/2+x*math.Pi)) / 2
}

// Animator spins the toolbar icon when the unread count rises.
type Animator struct {
	icon *image.RGBA
	sink FrameSink
}

// NewAnimator creates an animator for the given resting icon.
func NewAnimator(icon *image.RGBA, sink FrameSink) *Animator {
	return &Animator{icon: icon, sink: sink}
}

// Animate renders one full revolution, blocking until the spin finishes
// or ctx is cancelled.
func (a *Animator) Animate(ctx context.Context) {
	if a.icon == nil || a.sink == nil {
		return
	}
	defer a.sink.Done()

	ticker := time.NewTicker(frameDelay)
	defer ticker.Stop()

	for i := 1; i <= frameCount; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		angle := ease(float64(i)/frameCount) * 2 * math.Pi
		a.sink.Frame(rotate(a.icon, angle), i-1)
	}
}

// rotate renders src turned by angle about its center, sampling by
// inverse mapping so every destination pixel is covered.
func rotate(src *image.RGBA, angle float64) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)

	cx := float64(bounds.Min.X+bounds.Max.X) / 2
	cy := float64(bounds.Min.Y+bounds.Max.Y) / 2
	sin, cos := math.Sincos(-angle)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			sx := int(math.Floor(cx + dx*cos - dy*sin))
			sy := int(math.Floor(cy + dx*sin + dy*cos))
			if sx < bounds.Min.X || sx >= bounds.Max.X || sy < bounds.Min.Y || sy >= bounds.Max.Y {
				continue
			}
			dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return dst
}

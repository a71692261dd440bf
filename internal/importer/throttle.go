package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/photark/photark-backend/pkg/logger"
)

const throttleSampleInterval = time.Second

// Throttle holds workers back while the host CPU is saturated. Local video
// transcodes peg the machine; starting more items then only makes every
// in-flight heartbeat slower.
type Throttle struct {
	threshold float64
	backoff   time.Duration
	sample    func(ctx context.Context) (float64, error)
	logg      *logger.Logger
}

func NewThrottle(thresholdPercent float64, backoff time.Duration, logg *logger.Logger) *Throttle {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Throttle{
		threshold: thresholdPercent,
		backoff:   backoff,
		sample:    sampleCPU,
		logg:      logg,
	}
}

func sampleCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, throttleSampleInterval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return percents[0], nil
}

// Wait blocks until CPU usage drops below the threshold or the context ends.
// A disabled threshold (<= 0) and sampling failures both let work proceed;
// throttling is an optimization, never a gate that can wedge the pipeline.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.threshold <= 0 {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		usage, err := t.sample(ctx)
		if err != nil {
			return nil
		}
		if usage < t.threshold {
			return nil
		}
		if t.logg != nil {
			t.logg.Debug(ctx, fmt.Sprintf("cpu at %.0f%%, backing off for %s", usage, t.backoff))
		}

		timer := time.NewTimer(t.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package audit

import (
	"context"
	"time"

	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/sysinfo"
)

// Retention periodically purges records past the retention window. It
// implements system.Service.
type Retention struct {
	svc      *Service
	log      *logging.Logger
	window   time.Duration
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRetention constructs the retention sweeper.
func NewRetention(svc *Service, window, interval time.Duration, log *logging.Logger) *Retention {
	if log == nil {
		log = logging.NewDefault("audit-retention")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{svc: svc, log: log, window: window, interval: interval}
}

func (r *Retention) Name() string { return "audit-retention" }

func (r *Retention) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx)
	return nil
}

func (r *Retention) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Retention) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.svc.PurgeOlderThan(ctx, r.window); err != nil {
				r.log.WithError(err).Warn("retention sweep failed")
			}
		}
	}
}

// HostSampler periodically records host CPU/memory utilisation as
// performance records. It implements system.Service.
type HostSampler struct {
	svc      *Service
	sampler  sysinfo.Sampler
	log      *logging.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHostSampler constructs the host utilisation sampler.
func NewHostSampler(svc *Service, sampler sysinfo.Sampler, interval time.Duration, log *logging.Logger) *HostSampler {
	if log == nil {
		log = logging.NewDefault("host-sampler")
	}
	if sampler == nil {
		sampler = sysinfo.HostSampler{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &HostSampler{svc: svc, sampler: sampler, log: log, interval: interval}
}

func (h *HostSampler) Name() string { return "host-sampler" }

func (h *HostSampler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(loopCtx)
	return nil
}

func (h *HostSampler) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *HostSampler) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := h.sampler.Sample(ctx)
			if err != nil {
				h.log.WithError(err).Warn("host sample failed")
				continue
			}
			h.svc.RecordPerformance(ctx, "host", "", 0, sample.CPUPercent, sample.MemPercent)
		}
	}
}

// Package sysinfo samples host CPU and memory utilisation for the
// performance log.
package sysinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one host utilisation reading.
type Sample struct {
	CPUPercent float64
	MemPercent float64
}

// Sampler produces host samples. The host implementation reads via gopsutil;
// tests substitute a fake.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSampler reads utilisation from the local host.
type HostSampler struct{}

var _ Sampler = HostSampler{}

// Sample reads instantaneous CPU and memory utilisation.
func (HostSampler) Sample(ctx context.Context) (Sample, error) {
	var s Sample
	// interval 0 returns utilisation since the previous call
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	s.MemPercent = vm.UsedPercent
	return s, nil
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

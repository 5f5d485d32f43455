// Package battery estimates remaining battery energy from open-circuit
// voltage. Lithium cells have a well-characterised OCV-to-charge curve that
// shifts with temperature, so the gauge holds one curve per temperature
// band and interpolates between the tabulated points.
package battery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// VoltageFunc samples the battery voltage once, in millivolts. The gauge
// averages several samples per measurement to smooth ADC noise.
type VoltageFunc func() (int, error)

// ocvPoint maps one open-circuit voltage to a state of charge percentage.
type ocvPoint struct {
	millivolts int
	percent    int
}

// nixCoyMnzo2 holds the discharge curves for LiNiCoMnO2 cells, keyed by the
// characterisation temperature in degrees Celsius. Points are sorted by
// descending voltage.
var nixCoyMnzo2 = map[int][]ocvPoint{
	55: {
		{4152, 100}, {4083, 95}, {4023, 90}, {3967, 85}, {3915, 80},
		{3864, 75}, {3816, 70}, {3773, 65}, {3737, 60}, {3685, 55},
		{3656, 50}, {3638, 45}, {3625, 40}, {3612, 35}, {3596, 30},
		{3564, 25}, {3534, 20}, {3492, 15}, {3457, 10}, {3410, 5}, {3380, 0},
	},
	20: {
		{4143, 100}, {4079, 95}, {4023, 90}, {3972, 85}, {3923, 80},
		{3876, 75}, {3831, 70}, {3790, 65}, {3754, 60}, {3720, 55},
		{3680, 50}, {3652, 45}, {3634, 40}, {3621, 35}, {3608, 30},
		{3595, 25}, {3579, 20}, {3548, 15}, {3511, 10}, {3468, 5}, {3430, 0},
	},
	0: {
		{4147, 100}, {4089, 95}, {4038, 90}, {3990, 85}, {3944, 80},
		{3899, 75}, {3853, 70}, {3811, 65}, {3774, 60}, {3741, 55},
		{3708, 50}, {3675, 45}, {3651, 40}, {3633, 35}, {3620, 30},
		{3608, 25}, {3597, 20}, {3585, 15}, {3571, 10}, {3550, 5}, {3500, 0},
	},
}

// curves maps supported chemistry names to their temperature curve sets.
var curves = map[string]map[int][]ocvPoint{
	"nix_coy_mnzo2": nixCoyMnzo2,
}

// Gauge converts sampled battery voltage into a state of charge estimate.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Gauge struct {
	mu      sync.Mutex
	curve   map[int][]ocvPoint
	voltage VoltageFunc
	samples int
	temp    float64
	log     *logging.Logger
}

// NewGauge creates a gauge for the named chemistry.
//
// Parameters:
//   - chemistry: OCV curve set name, e.g. "nix_coy_mnzo2"
//   - voltage: Voltage sampler in millivolts
//   - samples: Readings averaged per measurement; values below 1 become 1
//
// Returns:
//   - *Gauge: Gauge at an assumed 20 degrees Celsius
//   - error: Unknown chemistry
func NewGauge(chemistry string, voltage VoltageFunc, samples int, log *logging.Logger) (*Gauge, error) {
	curve, ok := curves[chemistry]
	if !ok {
		return nil, fmt.Errorf("unknown battery chemistry %q", chemistry)
	}
	if samples < 1 {
		samples = 1
	}

	return &Gauge{
		curve:   curve,
		voltage: voltage,
		samples: samples,
		temp:    20,
		log:     log.With("component", "battery"),
	}, nil
}

// SetTemperature records the current cell temperature in degrees Celsius.
// The temperature selects which OCV curve subsequent estimates use.
func (g *Gauge) SetTemperature(temp float64) {
	g.mu.Lock()
	g.temp = temp
	g.mu.Unlock()
}

// Voltage measures the averaged battery voltage in millivolts.
func (g *Gauge) Voltage() (int, error) {
	g.mu.Lock()
	samples := g.samples
	g.mu.Unlock()

	sum := 0
	for i := 0; i < samples; i++ {
		mv, err := g.voltage()
		if err != nil {
			return 0, fmt.Errorf("sampling battery voltage: %w", err)
		}
		sum += mv
	}
	return sum / samples, nil
}

// Energy estimates the remaining charge as a percentage.
func (g *Gauge) Energy() (int, error) {
	mv, err := g.Voltage()
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	temp := g.temp
	g.mu.Unlock()

	soc := socFromCurve(g.curve[curveBand(temp)], mv)
	g.log.Debug("battery energy estimated", "millivolts", mv, "percent", soc)
	return soc, nil
}

// curveBand maps a temperature onto the nearest characterised curve.
func curveBand(temp float64) int {
	switch {
	case temp > 30:
		return 55
	case temp < 10:
		return 0
	default:
		return 20
	}
}

// socFromCurve interpolates the state of charge for a voltage between two
// tabulated points. Voltages above the table clamp to full, below to empty.
func socFromCurve(points []ocvPoint, mv int) int {
	if len(points) == 0 {
		return 0
	}

	// Points are declared sorted by descending voltage; keep that true even
	// if a curve is edited.
	sorted := make([]ocvPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].millivolts > sorted[j].millivolts })

	if mv > sorted[0].millivolts {
		return sorted[0].percent
	}
	if mv <= sorted[len(sorted)-1].millivolts {
		return 0
	}

	for i := 1; i < len(sorted); i++ {
		if mv > sorted[i].millivolts {
			upper, lower := sorted[i-1], sorted[i]
			span := upper.millivolts - lower.millivolts
			return upper.percent - (upper.percent-lower.percent)*(upper.millivolts-mv)/span
		}
	}
	return 0
}

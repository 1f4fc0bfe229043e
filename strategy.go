package signalengine

import (
	"math/rand"

	"github.com/cinar/indicator"
	"github.com/pkg/errors"
)

// ErrInsufficientWindow is returned by PerStep when the window holds
// fewer bars than the strategy requires.
var ErrInsufficientWindow = errors.New("window shorter than the strategy requires")

// Strategy turns a window of bars into one signal for the window's last
// bar. Implementations must be callable with only the last WindowLen()
// bars of history and must not mutate the window.
type Strategy interface {
	PerStep(window []Bar) (Signal, error)
	WindowLen() int
}

// <editor-fold desc="RandomStrategy" >

const randomStrategySeed = 1234

// RandomStrategy draws signals from a fixed categorical distribution.
// It exists to smoke-test the pipeline and is meant to be replaced by a
// real strategy honoring the same contract. The RNG is seeded once at
// construction, so a run is reproducible.
type RandomStrategy struct {
	NumPastTimesteps int
	ProbSell         float64
	ProbHold         float64
	ProbBuy          float64

	rng *rand.Rand
}

func NewRandomStrategy(numPastTimesteps int) *RandomStrategy {
	return &RandomStrategy{
		NumPastTimesteps: numPastTimesteps,
		ProbSell:         0.10,
		ProbHold:         0.80,
		ProbBuy:          0.10,
		rng:              rand.New(rand.NewSource(randomStrategySeed)),
	}
}

func (s *RandomStrategy) WindowLen() int { return s.NumPastTimesteps }

func (s *RandomStrategy) PerStep(window []Bar) (Signal, error) {
	if len(window) < s.NumPastTimesteps {
		return SignalHold, errors.Wrapf(ErrInsufficientWindow, "need %v bars, got %v", s.NumPastTimesteps, len(window))
	}

	total := s.ProbSell + s.ProbHold + s.ProbBuy
	if s.ProbSell < 0 || s.ProbHold < 0 || s.ProbBuy < 0 || total <= 0 {
		return SignalHold, errors.New("probabilities must be non-negative and sum to > 0")
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(randomStrategySeed))
	}

	draw := s.rng.Float64() * total
	switch {
	case draw < s.ProbSell:
		return SignalSell, nil
	case draw < s.ProbSell+s.ProbHold:
		return SignalHold, nil
	default:
		return SignalBuy, nil
	}
}

// </editor-fold>

// <editor-fold desc="PsarStrategy" >

// PsarStrategy follows the parabolic SAR trend of the window: rising
// trend is a BUY, falling is a SELL, and a SAR sitting inside the last
// bar's own range is read as noise and held.
type PsarStrategy struct {
	NumPastTimesteps int
}

func (s *PsarStrategy) WindowLen() int { return s.NumPastTimesteps }

func (s *PsarStrategy) PerStep(window []Bar) (Signal, error) {
	if len(window) < s.NumPastTimesteps {
		return SignalHold, errors.Wrapf(ErrInsufficientWindow, "need %v bars, got %v", s.NumPastTimesteps, len(window))
	}

	psar, trend := indicator.ParabolicSar(High(window), Low(window), Close(window))

	last := window[len(window)-1]
	sar := psar[len(psar)-1]
	if sar >= last.Low && sar <= last.High {
		return SignalHold, nil
	}
	if trend[len(trend)-1] == indicator.Rising {
		return SignalBuy, nil
	}
	return SignalSell, nil
}

// </editor-fold>

// Open extracts the open column of a window. The other column helpers
// follow the same shape and feed the indicator functions.
func Open(window []Bar) []float64 {
	res := make([]float64, len(window))
	for i, b := range window {
		res[i] = b.Open
	}
	return res
}

func High(window []Bar) []float64 {
	res := make([]float64, len(window))
	for i, b := range window {
		res[i] = b.High
	}
	return res
}

func Low(window []Bar) []float64 {
	res := make([]float64, len(window))
	for i, b := range window {
		res[i] = b.Low
	}
	return res
}

func Close(window []Bar) []float64 {
	res := make([]float64, len(window))
	for i, b := range window {
		res[i] = b.Close
	}
	return res
}

func Volume(window []Bar) []float64 {
	res := make([]float64, len(window))
	for i, b := range window {
		res[i] = b.Volume
	}
	return res
}

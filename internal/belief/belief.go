// Package belief implements the discretized-difficulty Bayesian belief state
// used by the POMDP decision engine. A belief is a probability vector over
// (label, difficulty-bin) pairs plus one terminal slot; votes move mass
// between label halves according to the Dai accuracy model.
package belief

import (
	"fmt"
	"math"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

const (
	// DefaultNumBins discretizes difficulty [0,1] into 11 bins.
	DefaultNumBins = 11
	// NumLabels is fixed: answers are binary.
	NumLabels = 2
)

// Bins returns the difficulty values for n bins: i/(n-1) for i in [0,n).
func Bins(n int) []float64 {
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = float64(i) / float64(n-1)
	}
	return bins
}

// Accuracy is the Dai model: P(correct | skill, difficulty) =
// 0.5*(1+(1-difficulty)^skill). Lower skill (gamma) means a more accurate
// worker; gamma=1 gives a linear accuracy curve.
func Accuracy(skill, difficulty float64) float64 {
	return 0.5 * (1 + math.Pow(1-difficulty, skill))
}

// Init returns the uniform prior belief: equal mass on every non-terminal
// (label, bin) state, zero on the terminal slot.
//
// Layout: indices [0,numBins) are (label=true, bin i), [numBins,2*numBins)
// are (label=false, bin i), and the final index is the terminal state.
func Init(numLabels, numBins int) []float64 {
	n := numLabels * numBins
	b := make([]float64, n+1)
	for i := 0; i < n; i++ {
		b[i] = 1.0 / float64(n)
	}
	return b
}

// Update reweights the belief by the likelihood of the observed label under
// each (label, bin) state for a voter with the given skill, then
// renormalizes. The terminal slot keeps zero mass.
//
// A belief already absorbed at the terminal state is returned unchanged:
// once an answer has been submitted, further votes do not move it.
func Update(b []float64, observed int, skill float64, bins []float64) ([]float64, error) {
	if !domain.ValidLabel(observed) {
		return nil, fmt.Errorf("%w: observation must be 0 or 1, got %d", domain.ErrInvalidInput, observed)
	}
	numBins := len(bins)
	if len(b) != NumLabels*numBins+1 {
		return nil, fmt.Errorf("%w: belief length %d does not match %d bins", domain.ErrInvalidInput, len(b), numBins)
	}
	if b[len(b)-1] == 1.0 {
		out := make([]float64, len(b))
		copy(out, b)
		return out, nil
	}

	out := make([]float64, len(b))
	for label := 0; label < NumLabels; label++ {
		for j := 0; j < numBins; j++ {
			state := label*numBins + j
			acc := Accuracy(skill, bins[j])
			// True-label states come first, so state label 0 means
			// "answer is 1" and matches observation 1.
			if observed == 1-label {
				out[state] = acc * b[state]
			} else {
				out[state] = (1 - acc) * b[state]
			}
		}
	}
	out[len(out)-1] = 0

	normalize(out)
	return out, nil
}

// Terminal returns a belief fully absorbed at the terminal state.
func Terminal(numLabels, numBins int) []float64 {
	b := make([]float64, numLabels*numBins+1)
	b[len(b)-1] = 1.0
	return b
}

// Sum returns the total mass of the belief, which should always be 1 within
// floating tolerance.
func Sum(b []float64) float64 {
	var s float64
	for _, v := range b {
		s += v
	}
	return s
}

func normalize(b []float64) {
	s := Sum(b)
	if s == 0 {
		return
	}
	for i := range b {
		b[i] /= s
	}
}

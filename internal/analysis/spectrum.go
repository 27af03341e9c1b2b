package analysis

import (
	"errors"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrShortSignal = errors.New("analysis: need at least 4 samples")

// Spectrum returns the one-sided power spectrum of samples taken every dt
// seconds. The mean is removed first so bin 0 only reflects drift.
func Spectrum(samples []float64, dt float64) (freqs, power []float64, err error) {
	n := len(samples)
	if n < 4 {
		return nil, nil, ErrShortSignal
	}
	if dt <= 0 {
		return nil, nil, errors.New("analysis: dt must be positive")
	}

	centered := make([]float64, n)
	copy(centered, samples)
	floats.AddConst(-stat.Mean(samples, nil), centered)

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, centered)

	freqs = make([]float64, len(coeff))
	power = make([]float64, len(coeff))
	for i, c := range coeff {
		freqs[i] = fft.Freq(i) / dt
		a := cmplx.Abs(c) / float64(n)
		power[i] = a * a
	}
	return freqs, power, nil
}

// DominantFrequency returns the frequency in Hz of the strongest non-zero
// bin.
func DominantFrequency(samples []float64, dt float64) (float64, error) {
	freqs, power, err := Spectrum(samples, dt)
	if err != nil {
		return 0, err
	}
	best := 1 + floats.MaxIdx(power[1:])
	return freqs[best], nil
}

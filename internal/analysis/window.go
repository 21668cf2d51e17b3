// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// WindowFunc selects the weighting applied to a frame before the transform.
type WindowFunc int

// Enum for available window functions. None disables windowing.
const (
	Hann WindowFunc = iota
	Hamming
	Blackman
	BlackmanNuttall
	BartlettHann
	Lanczos
	Nuttall
	None
)

func (w WindowFunc) String() string {
	switch w {
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case BartlettHann:
		return "bartletthann"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	case None:
		return "none"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

var windowNameReplacer = strings.NewReplacer("-", "", "_", "")

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc.
// Hyphens and underscores are ignored, so "blackman-nuttall" is accepted.
// Unknown names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch windowNameReplacer.Replace(strings.ToLower(strings.TrimSpace(name))) {
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "bartletthann":
		return BartlettHann, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	case "none", "rectangular", "off":
		return None, nil
	default:
		return Hann, fmt.Errorf("unknown window function %q", name)
	}
}

// Coefficients returns n weights for w. None yields all ones.
func (w WindowFunc) Coefficients(n int) []float64 {
	coeffs := make([]float64, n)
	// gonum windows scale the slice in place, so start from unity.
	for i := range coeffs {
		coeffs[i] = 1
	}

	switch w {
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	}
	return coeffs
}

// CoherentGain is the mean of the window, i.e. the amplitude a windowed
// sinusoid retains at its peak bin.
func CoherentGain(coeffs []float64) float64 {
	if len(coeffs) == 0 {
		return 0
	}
	return floats.Sum(coeffs) / float64(len(coeffs))
}

// Package quality compares two stacks of decoded images voxel by voxel. It is
// used to check that reslicing a series and reslicing it back reproduces the
// source.
package quality

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dicomreslice/internal/models"
)

// Metrics summarizes the agreement between an original and a reproduced stack.
type Metrics struct {
	Voxels int

	// Mismatched counts voxels whose values differ.
	Mismatched int

	RMSE float64
	SSIM float64

	// MI is the Gaussian approximation of mutual information, in nats. It is
	// +Inf for perfectly correlated stacks.
	MI float64

	EntropyDiff float64
}

// Identical reports whether every voxel matched.
func (m Metrics) Identical() bool {
	return m.Voxels > 0 && m.Mismatched == 0
}

// flatten concatenates the modality values of images.
func flatten(images []*models.DecodedImage) []float64 {
	var n int
	for _, img := range images {
		n += img.Pixels.Len()
	}
	out := make([]float64, 0, n)
	for _, img := range images {
		for i := 0; i < img.Pixels.Len(); i++ {
			out = append(out, img.Pixels.Value(i)*img.RescaleSlope+img.RescaleIntercept)
		}
	}
	return out
}

// Compare computes metrics between two stacks with identical geometry.
func Compare(original, reproduced []*models.DecodedImage) (Metrics, error) {
	if len(original) != len(reproduced) {
		return Metrics{}, fmt.Errorf("stack sizes differ: %d vs %d", len(original), len(reproduced))
	}
	for i := range original {
		a, b := original[i], reproduced[i]
		if a.Rows != b.Rows || a.Columns != b.Columns {
			return Metrics{}, fmt.Errorf("slice %d: %dx%d vs %dx%d", i, a.Columns, a.Rows, b.Columns, b.Rows)
		}
	}
	x, y := flatten(original), flatten(reproduced)
	m := Metrics{Voxels: len(x)}
	if len(x) == 0 {
		return m, nil
	}
	for i := range x {
		if x[i] != y[i] {
			m.Mismatched++
		}
	}
	m.RMSE = floats.Distance(x, y, 2) / math.Sqrt(float64(len(x)))
	m.SSIM = ssim(x, y)
	m.MI = mutualInformation(x, y)
	m.EntropyDiff = math.Abs(entropy(x) - entropy(y))
	return m, nil
}

// ssim is the global structural similarity index over the value range of x.
func ssim(x, y []float64) float64 {
	lo, hi := floats.Min(x), floats.Max(x)
	l := hi - lo
	if l == 0 {
		l = 1
	}
	c1 := (0.01 * l) * (0.01 * l)
	c2 := (0.03 * l) * (0.03 * l)

	muX, muY := stat.Mean(x, nil), stat.Mean(y, nil)
	if len(x) < 2 {
		return 1
	}
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den == 0 {
		return 0
	}
	return num / den
}

func mutualInformation(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	varX, varY := stat.Variance(x, nil), stat.Variance(y, nil)
	cov := stat.Covariance(x, y, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}
	det := varX*varY - cov*cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/det)
}

// entropy is the Shannon entropy of a 256 bin histogram of data, in bits.
func entropy(data []float64) float64 {
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}
	const bins = 256
	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, math.Nextafter(hi, math.Inf(1)))
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	hist := stat.Histogram(nil, dividers, sorted, nil)

	var h float64
	n := float64(len(data))
	for _, c := range hist {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

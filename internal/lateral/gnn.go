package lateral

import (
	"math"
	"math/rand"
)

// GNNLayer is a single message-passing layer with fixed weights. Weights are
// He-initialized from a seeded Gaussian and never updated: the network is a
// deterministic structure summarizer, not a trained model.
type GNNLayer struct {
	WSelf  [][]float64
	WNeigh [][]float64
	Bias   []float64
	inDim  int
	outDim int
}

// NewGNNLayer builds a layer with weights drawn from N(0, 2/in) using the
// given seed. The same seed always yields the same weights.
func NewGNNLayer(inDim, outDim int, seed int64) *GNNLayer {
	rng := rand.New(rand.NewSource(seed))
	scale := math.Sqrt(2.0 / float64(inDim))

	initMatrix := func() [][]float64 {
		m := make([][]float64, inDim)
		for i := range m {
			row := make([]float64, outDim)
			for j := range row {
				row[j] = rng.NormFloat64() * scale
			}
			m[i] = row
		}
		return m
	}

	return &GNNLayer{
		WSelf:  initMatrix(),
		WNeigh: initMatrix(),
		Bias:   make([]float64, outDim),
		inDim:  inDim,
		outDim: outDim,
	}
}

// Forward computes ReLU(H·WSelf + Â·H·WNeigh + bias) where Â is the
// row-normalized adjacency matrix.
func (l *GNNLayer) Forward(features, adj [][]float64) [][]float64 {
	adjNorm := rowNormalize(adj)
	selfPart := matMul(features, l.WSelf)
	neighPart := matMul(matMul(adjNorm, features), l.WNeigh)

	out := make([][]float64, len(selfPart))
	for i := range selfPart {
		row := make([]float64, l.outDim)
		for j := range row {
			row[j] = selfPart[i][j] + neighPart[i][j]
		}
		out[i] = row
	}
	addBias(out, l.Bias)
	relu(out)
	return out
}

// rowNormalize divides each row by its sum; zero rows stay zero.
func rowNormalize(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			sum = 1
		}
		norm := make([]float64, len(row))
		for j, v := range row {
			norm[j] = v / sum
		}
		out[i] = norm
	}
	return out
}

// matMul multiplies a (n×k) by b (k×m). Assumes consistent shapes.
func matMul(a, b [][]float64) [][]float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	n, k, m := len(a), len(b), len(b[0])
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, m)
		for kk := 0; kk < k; kk++ {
			v := a[i][kk]
			if v == 0 {
				continue
			}
			for j := 0; j < m; j++ {
				row[j] += v * b[kk][j]
			}
		}
		out[i] = row
	}
	return out
}

func addBias(m [][]float64, bias []float64) {
	for i := range m {
		for j := range m[i] {
			m[i][j] += bias[j]
		}
	}
}

func relu(m [][]float64) {
	for i := range m {
		for j, v := range m[i] {
			if v < 0 {
				m[i][j] = 0
			}
		}
	}
}

func l2Distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

package classifier

import "math"

// TrainOptions control gradient descent for the logistic model.
type TrainOptions struct {
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	L2           float64 `json:"l2"`
}

// DefaultTrainOptions are tuned for L2-normalized embeddings.
var DefaultTrainOptions = TrainOptions{
	LearningRate: 2.0,
	Epochs:       600,
	L2:           1e-4,
}

// logisticModel is a multinomial (softmax) logistic regression.
// Weights is classes x dimension.
type logisticModel struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// trainLogistic fits a softmax regression with full-batch gradient descent
// from a zero start, so identical inputs give identical weights.
func trainLogistic(x [][]float64, y []int, classes int, opts TrainOptions) *logisticModel {
	dim := 0
	if len(x) > 0 {
		dim = len(x[0])
	}
	m := &logisticModel{
		Weights: make([][]float64, classes),
		Bias:    make([]float64, classes),
	}
	for k := range m.Weights {
		m.Weights[k] = make([]float64, dim)
	}

	n := float64(len(x))
	gradW := make([][]float64, classes)
	for k := range gradW {
		gradW[k] = make([]float64, dim)
	}
	gradB := make([]float64, classes)
	probs := make([]float64, classes)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for k := range gradW {
			clear(gradW[k])
		}
		clear(gradB)

		for i, xi := range x {
			m.probabilitiesInto(xi, probs)
			for k := 0; k < classes; k++ {
				diff := probs[k]
				if k == y[i] {
					diff -= 1
				}
				if diff == 0 {
					continue
				}
				gradB[k] += diff
				row := gradW[k]
				for d, v := range xi {
					if v != 0 {
						row[d] += diff * v
					}
				}
			}
		}

		for k := 0; k < classes; k++ {
			w := m.Weights[k]
			g := gradW[k]
			for d := range w {
				w[d] -= opts.LearningRate * (g[d]/n + opts.L2*w[d])
			}
			m.Bias[k] -= opts.LearningRate * gradB[k] / n
		}
	}
	return m
}

func (m *logisticModel) probabilities(x []float64) []float64 {
	out := make([]float64, len(m.Bias))
	m.probabilitiesInto(x, out)
	return out
}

func (m *logisticModel) probabilitiesInto(x []float64, out []float64) {
	maxLogit := math.Inf(-1)
	for k, w := range m.Weights {
		z := m.Bias[k]
		for d, v := range x {
			z += w[d] * v
		}
		out[k] = z
		if z > maxLogit {
			maxLogit = z
		}
	}
	var sum float64
	for k := range out {
		out[k] = math.Exp(out[k] - maxLogit)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

func argmax(p []float64) int {
	best := 0
	for i, v := range p {
		if v > p[best] {
			best = i
		}
	}
	return best
}

package hsuanwu

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Sampler samples from a parametric distribution.
//
// For an example, see Softmax.
type Sampler interface {
	// Sample samples a batch of vectors given a batch
	// of parameter vectors.
	Sample(params anyvec.Vector, batchSize int) anyvec.Vector
}

// A LogProber can compute the log-likelihood of a given
// output of a parametric distribution.
type LogProber interface {
	// LogProb produces, for each parameter-output pair
	// in the batch, a log-probability of the parameters
	// producing that output.
	LogProb(params anydiff.Res, output anyvec.Vector,
		batchSize int) anydiff.Res
}

// An Entropyer can compute the entropy of a parametric
// distribution.
type Entropyer interface {
	Entropy(params anydiff.Res, batchSize int) anydiff.Res
}

// ActionSpace is a parameterized action distribution
// which can be sampled, scored, and regularized.
type ActionSpace interface {
	Sampler
	LogProber
	Entropyer
}

// Softmax is an ActionSpace over discrete actions.
//
// Parameters are unnormalized log-probabilities (logits),
// one chunk per batch entry, and samples are one-hot.
type Softmax struct{}

// Sample draws one action per logit chunk.
func (s Softmax) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	c := params.Creator()
	logits := c.Float64Slice(params.Data())
	n := s.numActions(len(logits), batch)
	oneHots := make([]float64, len(logits))
	for i := 0; i < batch; i++ {
		probs := softmaxProbs(logits[i*n : (i+1)*n])
		oneHots[i*n+sampleIndex(probs, rand.Float64())] = 1
	}
	return anyvec.Make(c, oneHots)
}

// LogProb computes the log-likelihood of each one-hot
// output under its logits.
func (s Softmax) LogProb(params anydiff.Res, output anyvec.Vector,
	batchSize int) anydiff.Res {
	if params.Output().Len() != output.Len() {
		panic(fmt.Sprintf("logit count %d does not match output length %d",
			params.Output().Len(), output.Len()))
	}
	n := s.numActions(params.Output().Len(), batchSize)
	logProbs := anydiff.LogSoftmax(params, n)
	return chunkSums(anydiff.Mul(logProbs, anydiff.NewConst(output)), batchSize)
}

// Entropy computes the entropy of each distribution in
// the batch.
func (s Softmax) Entropy(params anydiff.Res, batchSize int) anydiff.Res {
	c := params.Output().Creator()
	n := s.numActions(params.Output().Len(), batchSize)
	return anydiff.Pool(anydiff.LogSoftmax(params, n), func(logProbs anydiff.Res) anydiff.Res {
		plogp := anydiff.Mul(anydiff.Exp(logProbs), logProbs)
		return anydiff.Scale(chunkSums(plogp, batchSize), c.MakeNumeric(-1))
	})
}

func (s Softmax) numActions(numParams, batchSize int) int {
	if batchSize <= 0 || numParams%batchSize != 0 {
		panic(fmt.Sprintf("batch size %d does not divide logit count %d",
			batchSize, numParams))
	}
	return numParams / batchSize
}

// chunkSums adds up each of the rows equal-sized chunks
// of r.
func chunkSums(r anydiff.Res, rows int) anydiff.Res {
	return anydiff.SumCols(&anydiff.Matrix{
		Data: r,
		Rows: rows,
		Cols: r.Output().Len() / rows,
	})
}

func softmaxProbs(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, x := range logits {
		maxLogit = math.Max(maxLogit, x)
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, x := range logits {
		probs[i] = math.Exp(x - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// sampleIndex picks an index with the given probabilities
// using u, a uniform sample from [0, 1).
func sampleIndex(probs []float64, u float64) int {
	for i, p := range probs {
		u -= p
		if u < 0 {
			return i
		}
	}
	return len(probs) - 1
}

package intrinsic

import (
	"encoding/binary"
	"math"

	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/zeebo/xxh3"
)

// CountBonus rewards observations in proportion to
// 1/sqrt(n), where n is the number of times a discretized
// version of the observation has been seen.
type CountBonus struct {
	Schedule Schedule

	// Resolution is the bucket width used to discretize
	// observations.
	//
	// If 0, 0.1 is used.
	Resolution float64

	counts map[uint64]int
}

// Compute updates the counts with every observation in the
// batch and returns the resulting bonuses.
func (c *CountBonus) Compute(b *impala.Batch, step int64) ([][]float64, error) {
	if c.counts == nil {
		c.counts = map[uint64]int{}
	}
	weight := c.Schedule.Weight(step)
	res := make([][]float64, b.Len())
	for i, traj := range b.Trajectories {
		res[i] = make([]float64, traj.Len())
		for j, trans := range traj.Transitions {
			key := c.hash(trans.Observation)
			c.counts[key]++
			res[i][j] = weight / math.Sqrt(float64(c.counts[key]))
		}
	}
	return res, nil
}

// Visits returns the number of times an observation's
// bucket has been seen.
func (c *CountBonus) Visits(obs []float64) int {
	return c.counts[c.hash(obs)]
}

func (c *CountBonus) hash(obs []float64) uint64 {
	resolution := c.Resolution
	if resolution == 0 {
		resolution = 0.1
	}
	buf := make([]byte, 8*len(obs))
	for i, x := range obs {
		bucket := int64(math.Floor(x / resolution))
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(bucket))
	}
	return xxh3.Hash(buf)
}

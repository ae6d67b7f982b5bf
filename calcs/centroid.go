package calcs

import "github.com/go-gl/mathgl/mgl64"

// weightedCentroid is the index of the centre of mass of vals.
func weightedCentroid(vals []float64) float64 {
	var sum, X float64

	for i, val := range vals {
		sum += val
		X += val * float64(i)
	}

	if sum == 0 {
		return 0
	}
	return X / sum
}

// Centroid is the mean of points, or the origin for none.
func Centroid(points []mgl64.Vec3) (c mgl64.Vec3) {
	if len(points) == 0 {
		return
	}
	for _, p := range points {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(points)))
}

// PathLength is the distance travelled visiting points in order.
func PathLength(points []mgl64.Vec3) (l float64) {
	for i := 1; i < len(points); i++ {
		l += points[i].Sub(points[i-1]).Len()
	}
	return
}

// Busiest returns the index of the segment of the path where the moves are
// concentrated, weighting each segment by its length.
func Busiest(points []mgl64.Vec3) float64 {
	if len(points) < 2 {
		return 0
	}
	lengths := make([]float64, len(points)-1)
	for i := range lengths {
		lengths[i] = points[i+1].Sub(points[i]).Len()
	}
	return weightedCentroid(lengths)
}

package toolpath

import "math"

// maxPasses bounds the pass count for tiny step-down values.
const maxPasses = 10000

// PassDepths returns the Z level of each depth pass, shallowest first.
// Depths are given as positive distances below the surface; the sign of
// cutDepth is ignored. The last pass lands exactly on the target and a
// step of zero or less gives a single pass. A zero cut depth gives none.
func PassDepths(startDepth, cutDepth, stepDown float64) []float64 {
	if cutDepth == 0 {
		return nil
	}
	start := -math.Abs(startDepth)
	target := -math.Abs(cutDepth)
	if target >= start-1e-9 || stepDown <= 0 {
		return []float64{target}
	}
	var out []float64
	for k := 1; k <= maxPasses; k++ {
		z := start - float64(k)*stepDown
		if z <= target+1e-9 || k == maxPasses {
			out = append(out, target)
			break
		}
		out = append(out, z)
	}
	return out
}

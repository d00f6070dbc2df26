package attributes

import (
	"fmt"
	"math"

	"github.com/frheault/scilpy/pkg/tractogram"
	"github.com/frheault/scilpy/pkg/volume"
)

// countEpsilon is the floor applied to per-voxel visit counters when
// averaging, so voxels no streamline touches divide to zero instead of
// raising a division error.
const countEpsilon = 1e-6

// ConvertDPSToDPP copies the per-streamline value of each listed DPS key to
// every point of the corresponding streamline as a new DPP entry, then
// removes the DPS key. Vector-valued entries broadcast unchanged, so every
// point carries a copy of the streamline's vector.
//
// All keys are validated before any mutation: a missing DPS key, a DPP
// collision (without overwrite) or a key listed twice leaves the tractogram
// untouched. The tractogram is mutated in place and also returned for
// chaining.
func ConvertDPSToDPP(t *tractogram.Tractogram, keys []string, overwrite bool) (*tractogram.Tractogram, error) {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			return nil, fmt.Errorf("%w: dps key %q", ErrDuplicateKey, key)
		}
		seen[key] = true
		if _, ok := t.DataPerStreamline[key]; !ok {
			return nil, fmt.Errorf("%w: dps key %q", ErrMissingKey, key)
		}
		if _, ok := t.DataPerPoint[key]; ok && !overwrite {
			return nil, fmt.Errorf("%w: dpp key %q (pass overwrite to replace it)", ErrKeyCollision, key)
		}
	}

	for _, key := range keys {
		values := t.DataPerStreamline[key]
		perPoint := make([][][]float64, len(t.Streamlines))
		for i, s := range t.Streamlines {
			points := make([][]float64, len(s))
			for p := range points {
				point := make([]float64, len(values[i]))
				copy(point, values[i])
				points[p] = point
			}
			perPoint[i] = points
		}
		t.DataPerPoint[key] = perPoint
		delete(t.DataPerStreamline, key)
	}
	return t, nil
}

// ProjectMapToStreamlines samples the volumetric map at every streamline
// point, under the tractogram's current space and origin convention. The
// result holds one (pointCount x channelCount) matrix per streamline, a
// candidate new DPP entry; 3D maps produce one channel, 4D maps one channel
// per trailing-dimension entry.
//
// With endpointsOnly, only the first and last point of each streamline are
// sampled and every interior row is filled with NaN, so consumers must treat
// NaN as "no data". Neither the tractogram nor the map is mutated.
func ProjectMapToStreamlines(t *tractogram.Tractogram, vol *volume.DataVolume, endpointsOnly bool) ([][][]float64, error) {
	out := make([][][]float64, len(t.Streamlines))
	for i, s := range t.Streamlines {
		if len(s) == 0 {
			return nil, fmt.Errorf("streamline %d has no points", i)
		}
		rows := make([][]float64, len(s))
		if endpointsOnly {
			for p := range rows {
				rows[p] = nanRow(vol.Channels)
			}
			for _, p := range []int{0, len(s) - 1} {
				value, err := vol.ValueAt(s[p][0], s[p][1], s[p][2], t.Space(), t.Origin())
				if err != nil {
					return nil, fmt.Errorf("sampling streamline %d point %d: %w", i, p, err)
				}
				rows[p] = value
			}
		} else {
			for p, point := range s {
				value, err := vol.ValueAt(point[0], point[1], point[2], t.Space(), t.Origin())
				if err != nil {
					return nil, fmt.Errorf("sampling streamline %d point %d: %w", i, p, err)
				}
				rows[p] = value
			}
		}
		out[i] = rows
	}
	return out, nil
}

// ProjectDPPToMap accumulates one DPP key's per-point scalars onto the
// reference voxel grid and returns the resulting 3D map. Each selected point
// contributes its value to the voxel containing it; with sumLines the raw
// per-voxel sums are returned, otherwise each voxel is averaged over its
// visit count. With endpointsOnly, only the first and last point of each
// streamline contribute.
//
// Side effect: the tractogram is permanently converted to voxel space with
// corner origin so point coordinates floor-truncate to voxel indices. The
// conversion is not reversed.
//
// Streamlines are used as-is: a streamline that crosses a voxel without
// having a point inside it contributes nothing there. Densify streamlines
// beforehand for smoother maps.
func ProjectDPPToMap(t *tractogram.Tractogram, dppKey string, sumLines, endpointsOnly bool) (*volume.DataVolume, error) {
	values, ok := t.DataPerPoint[dppKey]
	if !ok {
		return nil, fmt.Errorf("%w: dpp key %q", ErrMissingKey, dppKey)
	}

	if err := t.ToVox(); err != nil {
		return nil, err
	}
	// In corner origin, flooring a voxel-space coordinate gives the voxel
	// containing the point.
	t.ToCorner()

	dims := t.Dimensions()
	theMap, err := volume.New(dims[0], dims[1], dims[2], 1, t.VoxelSizes(), t.Affine())
	if err != nil {
		return nil, err
	}
	count, err := volume.New(dims[0], dims[1], dims[2], 1, t.VoxelSizes(), t.Affine())
	if err != nil {
		return nil, err
	}

	for i, s := range t.Streamlines {
		if len(s) == 0 {
			return nil, fmt.Errorf("streamline %d has no points", i)
		}
		points := allPointIndices(len(s), endpointsOnly)
		for _, p := range points {
			value := values[i][p]
			if len(value) != 1 {
				return nil, fmt.Errorf("dpp key %q holds width-%d vectors, only scalar entries can be projected", dppKey, len(value))
			}
			x := int(s[p][0])
			y := int(s[p][1])
			z := int(s[p][2])
			if !theMap.InBounds(x, y, z) {
				return nil, fmt.Errorf("streamline %d point %d falls outside the %v grid at voxel (%d, %d, %d)",
					i, p, dims, x, y, z)
			}
			count.Add(x, y, z, 0, 1)
			theMap.Add(x, y, z, 0, value[0])
		}
	}

	if !sumLines {
		for i := range theMap.Data {
			theMap.Data[i] /= math.Max(count.Data[i], countEpsilon)
		}
	}
	return theMap, nil
}

// PerformOperationOnDPP applies a reducing operator to each point's value
// vector independently, producing a width-1 DPP-shaped result (a candidate
// new key). This is meaningful when the DPP value at each point is itself a
// vector, e.g. per-point samples of a multi-channel map.
//
// With endpointsOnly, only the first and last point are reduced and interior
// points are set to NaN. The source DPP entry is not modified.
func PerformOperationOnDPP(opName string, t *tractogram.Tractogram, dppKey string, endpointsOnly bool) ([][][]float64, error) {
	op, err := lookup(opName)
	if err != nil {
		return nil, err
	}
	if op.reduceVector == nil {
		return nil, fmt.Errorf("%w: %q cannot be applied per point", ErrNotReducer, opName)
	}
	values, ok := t.DataPerPoint[dppKey]
	if !ok {
		return nil, fmt.Errorf("%w: dpp key %q", ErrMissingKey, dppKey)
	}

	out := make([][][]float64, len(values))
	for i, points := range values {
		if len(points) == 0 {
			return nil, fmt.Errorf("dpp key %q has no values for streamline %d", dppKey, i)
		}
		rows := make([][]float64, len(points))
		if endpointsOnly {
			for p := range rows {
				rows[p] = nanRow(1)
			}
			rows[0] = []float64{op.reduceVector(points[0])}
			rows[len(points)-1] = []float64{op.reduceVector(points[len(points)-1])}
		} else {
			for p, point := range points {
				rows[p] = []float64{op.reduceVector(point)}
			}
		}
		out[i] = rows
	}
	return out, nil
}

// PerformOperationDPPToDPS collapses each streamline's per-point values into
// one per-streamline value (a candidate new DPS key) with a reducing
// operator. The full per-point sequence is reduced along the point axis, so
// width-w DPP entries produce width-w DPS values.
//
// With endpointsOnly, the first and last point's vectors are concatenated
// into one combined vector and reduced to a single scalar; interior points
// are ignored. Note the different semantics: the concatenation is reduced as
// one sequence, not averaged per endpoint.
func PerformOperationDPPToDPS(opName string, t *tractogram.Tractogram, dppKey string, endpointsOnly bool) ([][]float64, error) {
	op, err := lookup(opName)
	if err != nil {
		return nil, err
	}
	if op.reduceMatrix == nil || op.reduceVector == nil {
		return nil, fmt.Errorf("%w: %q cannot reduce a streamline", ErrNotReducer, opName)
	}
	values, ok := t.DataPerPoint[dppKey]
	if !ok {
		return nil, fmt.Errorf("%w: dpp key %q", ErrMissingKey, dppKey)
	}

	out := make([][]float64, len(values))
	for i, points := range values {
		if len(points) == 0 {
			return nil, fmt.Errorf("dpp key %q has no values for streamline %d", dppKey, i)
		}
		if endpointsOnly {
			first, last := points[0], points[len(points)-1]
			combined := make([]float64, 0, len(first)+len(last))
			combined = append(combined, first...)
			combined = append(combined, last...)
			out[i] = []float64{op.reduceVector(combined)}
		} else {
			out[i] = op.reduceMatrix(points)
		}
	}
	return out, nil
}

// PerformPairwiseOperationOnEndpoints applies a pairwise operator to the
// first and last point's value vectors of each streamline and returns the
// off-diagonal entry of the resulting 2x2 matrix, one scalar per streamline
// (a candidate new DPS key). Only operators with a pairwise form are
// accepted; in the fixed registry that is correlation.
func PerformPairwiseOperationOnEndpoints(opName string, t *tractogram.Tractogram, dppKey string) ([]float64, error) {
	op, err := lookup(opName)
	if err != nil {
		return nil, err
	}
	if op.pairwise == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotPairwise, opName)
	}
	values, ok := t.DataPerPoint[dppKey]
	if !ok {
		return nil, fmt.Errorf("%w: dpp key %q", ErrMissingKey, dppKey)
	}

	out := make([]float64, len(values))
	for i, points := range values {
		if len(points) == 0 {
			return nil, fmt.Errorf("dpp key %q has no values for streamline %d", dppKey, i)
		}
		m := op.pairwise(points[0], points[len(points)-1])
		out[i] = m.At(0, 1)
	}
	return out, nil
}

// allPointIndices returns the point indices a projection visits: every point,
// or just the two endpoints.
func allPointIndices(n int, endpointsOnly bool) []int {
	if endpointsOnly {
		if n == 1 {
			return []int{0}
		}
		return []int{0, n - 1}
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func nanRow(width int) []float64 {
	row := make([]float64, width)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

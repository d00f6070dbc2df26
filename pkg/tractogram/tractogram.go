// Package tractogram provides the stateful tractogram container used by the
// streamline attribute engine. A tractogram holds streamline geometry together
// with per-streamline (DPS) and per-point (DPP) scalar attributes, and keeps
// track of the coordinate convention (space and origin) the point coordinates
// are currently expressed in.
package tractogram

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Space identifies the coordinate space the streamline points are expressed in.
type Space int

const (
	// SpaceRasmm is world space: millimeter coordinates in the anatomical
	// RAS+ frame defined by the reference image affine.
	SpaceRasmm Space = iota

	// SpaceVox is voxel space: continuous voxel indices of the reference grid.
	SpaceVox

	// SpaceVoxmm is voxel space scaled by the voxel sizes, in millimeters.
	SpaceVoxmm
)

// String returns the conventional lowercase name of the space.
func (s Space) String() string {
	switch s {
	case SpaceRasmm:
		return "rasmm"
	case SpaceVox:
		return "vox"
	case SpaceVoxmm:
		return "voxmm"
	}
	return fmt.Sprintf("space(%d)", int(s))
}

// Origin identifies where integer coordinates fall within a voxel.
type Origin int

const (
	// OriginCenter places integer coordinates at voxel centers
	// (the NIfTI convention).
	OriginCenter Origin = iota

	// OriginCorner places integer coordinates at voxel corners
	// (the TrackVis convention). With this origin, truncating a voxel-space
	// coordinate yields the index of the voxel containing the point.
	OriginCorner
)

// String returns the conventional lowercase name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginCenter:
		return "center"
	case OriginCorner:
		return "corner"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Streamline is an ordered polyline of 3D points.
type Streamline [][3]float64

// Tractogram is a collection of streamlines with their attached attributes
// and coordinate-space metadata.
//
// The two attribute dictionaries are parallel-indexed with Streamlines:
// DataPerStreamline maps a key to one vector per streamline, and DataPerPoint
// maps a key to one (pointCount x width) matrix per streamline. Validate
// enforces these invariants.
type Tractogram struct {
	// Streamlines is the ordered streamline geometry, expressed in the
	// current space and origin.
	Streamlines []Streamline

	// DataPerStreamline holds DPS attributes: for each key, one value vector
	// per streamline (scalars are length-1 vectors).
	DataPerStreamline map[string][][]float64

	// DataPerPoint holds DPP attributes: for each key and each streamline,
	// one value vector per point.
	DataPerPoint map[string][][][]float64

	space  Space
	origin Origin

	// affine maps voxel indices (center origin) to rasmm world coordinates.
	affine *mat.Dense

	voxelSizes [3]float64
	dimensions [3]int
}

// New creates a tractogram from streamline geometry and reference-grid
// metadata. The affine must be a 4x4 voxel-to-rasmm matrix; passing nil uses
// the identity, in which case voxel and world space coincide.
func New(streamlines []Streamline, affine *mat.Dense, dimensions [3]int,
	voxelSizes [3]float64, space Space, origin Origin) (*Tractogram, error) {
	if affine == nil {
		affine = identityAffine()
	}
	r, c := affine.Dims()
	if r != 4 || c != 4 {
		return nil, fmt.Errorf("affine must be 4x4, got %dx%d", r, c)
	}
	for i, size := range voxelSizes {
		if size <= 0 {
			return nil, fmt.Errorf("voxel size along axis %d must be positive, got %f", i, size)
		}
	}
	return &Tractogram{
		Streamlines:       streamlines,
		DataPerStreamline: make(map[string][][]float64),
		DataPerPoint:      make(map[string][][][]float64),
		space:             space,
		origin:            origin,
		affine:            mat.DenseCopyOf(affine),
		voxelSizes:        voxelSizes,
		dimensions:        dimensions,
	}, nil
}

func identityAffine() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		a.Set(i, i, 1)
	}
	return a
}

// Space returns the coordinate space the streamlines are currently in.
func (t *Tractogram) Space() Space { return t.space }

// Origin returns the voxel origin convention the streamlines are currently in.
func (t *Tractogram) Origin() Origin { return t.origin }

// Dimensions returns the 3D extent of the reference voxel grid.
func (t *Tractogram) Dimensions() [3]int { return t.dimensions }

// VoxelSizes returns the physical voxel sizes in mm along each axis.
func (t *Tractogram) VoxelSizes() [3]float64 { return t.voxelSizes }

// Affine returns a copy of the 4x4 voxel-to-rasmm affine.
func (t *Tractogram) Affine() *mat.Dense { return mat.DenseCopyOf(t.affine) }

// Len returns the number of streamlines.
func (t *Tractogram) Len() int { return len(t.Streamlines) }

// Validate checks the attribute-dictionary invariants: every DPS entry has
// one value per streamline, and every DPP entry has one matrix per streamline
// with one row per point.
func (t *Tractogram) Validate() error {
	n := len(t.Streamlines)
	for key, values := range t.DataPerStreamline {
		if len(values) != n {
			return fmt.Errorf("dps key %q has %d values for %d streamlines", key, len(values), n)
		}
	}
	for key, values := range t.DataPerPoint {
		if len(values) != n {
			return fmt.Errorf("dpp key %q has %d entries for %d streamlines", key, len(values), n)
		}
		for i, points := range values {
			if len(points) != len(t.Streamlines[i]) {
				return fmt.Errorf("dpp key %q has %d values for the %d points of streamline %d",
					key, len(points), len(t.Streamlines[i]), i)
			}
		}
	}
	return nil
}

// ToVox converts the streamline coordinates to voxel space. The origin
// convention is unchanged.
func (t *Tractogram) ToVox() error {
	switch t.space {
	case SpaceVox:
		return nil
	case SpaceVoxmm:
		t.scalePoints(1/t.voxelSizes[0], 1/t.voxelSizes[1], 1/t.voxelSizes[2])
	case SpaceRasmm:
		inv, err := t.inverseAffine()
		if err != nil {
			return err
		}
		t.transformPoints(inv)
	}
	t.space = SpaceVox
	return nil
}

// ToVoxmm converts the streamline coordinates to voxmm space.
func (t *Tractogram) ToVoxmm() error {
	if err := t.ToVox(); err != nil {
		return err
	}
	t.scalePoints(t.voxelSizes[0], t.voxelSizes[1], t.voxelSizes[2])
	t.space = SpaceVoxmm
	return nil
}

// ToRasmm converts the streamline coordinates to world space.
func (t *Tractogram) ToRasmm() error {
	if t.space == SpaceRasmm {
		return nil
	}
	if err := t.ToVox(); err != nil {
		return err
	}
	t.transformPoints(t.affine)
	t.space = SpaceRasmm
	return nil
}

// ToCorner shifts the coordinates to the corner origin convention. In corner
// origin, flooring a voxel-space coordinate gives the containing voxel index.
func (t *Tractogram) ToCorner() {
	if t.origin == OriginCorner {
		return
	}
	t.shiftHalfVoxel(1)
	t.origin = OriginCorner
}

// ToCenter shifts the coordinates to the center origin convention.
func (t *Tractogram) ToCenter() {
	if t.origin == OriginCenter {
		return
	}
	t.shiftHalfVoxel(-1)
	t.origin = OriginCenter
}

// shiftHalfVoxel offsets every point by sign*half a voxel, expressed in the
// current space.
func (t *Tractogram) shiftHalfVoxel(sign float64) {
	var shift [3]float64
	switch t.space {
	case SpaceVox:
		shift = [3]float64{0.5, 0.5, 0.5}
	case SpaceVoxmm:
		shift = [3]float64{t.voxelSizes[0] / 2, t.voxelSizes[1] / 2, t.voxelSizes[2] / 2}
	case SpaceRasmm:
		// Half a voxel through the rotation/scaling part of the affine.
		for i := 0; i < 3; i++ {
			shift[i] = 0.5 * (t.affine.At(i, 0) + t.affine.At(i, 1) + t.affine.At(i, 2))
		}
	}
	for _, s := range t.Streamlines {
		for i := range s {
			s[i][0] += sign * shift[0]
			s[i][1] += sign * shift[1]
			s[i][2] += sign * shift[2]
		}
	}
}

func (t *Tractogram) inverseAffine() (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(t.affine); err != nil {
		return nil, fmt.Errorf("reference affine is not invertible: %w", err)
	}
	return &inv, nil
}

// transformPoints applies a 4x4 homogeneous transform to every point in place.
func (t *Tractogram) transformPoints(m *mat.Dense) {
	for _, s := range t.Streamlines {
		for i := range s {
			x, y, z := s[i][0], s[i][1], s[i][2]
			s[i][0] = m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2)*z + m.At(0, 3)
			s[i][1] = m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)*z + m.At(1, 3)
			s[i][2] = m.At(2, 0)*x + m.At(2, 1)*y + m.At(2, 2)*z + m.At(2, 3)
		}
	}
}

func (t *Tractogram) scalePoints(sx, sy, sz float64) {
	for _, s := range t.Streamlines {
		for i := range s {
			s[i][0] *= sx
			s[i][1] *= sy
			s[i][2] *= sz
		}
	}
}

// Package volume provides the volumetric map abstraction sampled by the
// streamline attribute engine: a 3D (optionally multi-channel, i.e. 4D) grid
// of float64 values with coordinate-convention-aware value lookup.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/frheault/scilpy/pkg/tractogram"
)

// Interpolation selects how ValueAt samples between voxels.
type Interpolation int

const (
	// Nearest returns the value of the closest voxel.
	Nearest Interpolation = iota

	// Trilinear linearly interpolates the eight surrounding voxels.
	Trilinear
)

// ParseInterpolation maps the conventional names "nearest" and "trilinear"
// to their Interpolation values.
func ParseInterpolation(name string) (Interpolation, error) {
	switch name {
	case "nearest":
		return Nearest, nil
	case "trilinear":
		return Trilinear, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q (must be nearest or trilinear)", name)
}

// DataVolume is a volumetric map over a regular voxel grid.
//
// Data is stored as a flat row-major buffer indexed as
// ((z*Height + y)*Width + x)*Channels + c. A volume with Channels == 1 is a
// plain 3D map; Channels > 1 corresponds to a 4D image whose trailing
// dimension holds the channels.
type DataVolume struct {
	// Data is the voxel buffer in row-major order.
	Data []float64

	// Width, Height and Depth are the grid dimensions in voxels.
	Width, Height, Depth int

	// Channels is the size of the trailing (4th) dimension; 1 for 3D maps.
	Channels int

	// VoxelSizes is the physical voxel size in mm along each axis.
	VoxelSizes [3]float64

	// Interp selects the sampling scheme used by ValueAt.
	Interp Interpolation

	// affine maps voxel indices (center origin) to rasmm world coordinates.
	affine *mat.Dense
}

// New creates a zero-filled volume. A nil affine means the identity, in which
// case voxel and world coordinates coincide.
func New(width, height, depth, channels int, voxelSizes [3]float64, affine *mat.Dense) (*DataVolume, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("volume dimensions must be positive, got %dx%dx%d", width, height, depth)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("volume must have at least one channel, got %d", channels)
	}
	if affine == nil {
		affine = mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		})
	} else {
		r, c := affine.Dims()
		if r != 4 || c != 4 {
			return nil, fmt.Errorf("affine must be 4x4, got %dx%d", r, c)
		}
		affine = mat.DenseCopyOf(affine)
	}
	for i, size := range voxelSizes {
		if size <= 0 {
			return nil, fmt.Errorf("voxel size along axis %d must be positive, got %f", i, size)
		}
	}
	return &DataVolume{
		Data:       make([]float64, width*height*depth*channels),
		Width:      width,
		Height:     height,
		Depth:      depth,
		Channels:   channels,
		VoxelSizes: voxelSizes,
		Interp:     Trilinear,
		affine:     affine,
	}, nil
}

// Affine returns a copy of the 4x4 voxel-to-rasmm affine.
func (v *DataVolume) Affine() *mat.Dense { return mat.DenseCopyOf(v.affine) }

// Is4D reports whether the volume has a trailing channel dimension.
func (v *DataVolume) Is4D() bool { return v.Channels > 1 }

// Dimensions returns the 3D grid extent.
func (v *DataVolume) Dimensions() [3]int { return [3]int{v.Width, v.Height, v.Depth} }

func (v *DataVolume) index(x, y, z, c int) int {
	return ((z*v.Height+y)*v.Width+x)*v.Channels + c
}

// At returns the value of one voxel channel. Indices must be in range.
func (v *DataVolume) At(x, y, z, c int) float64 {
	return v.Data[v.index(x, y, z, c)]
}

// Set assigns one voxel channel. Indices must be in range.
func (v *DataVolume) Set(x, y, z, c int, value float64) {
	v.Data[v.index(x, y, z, c)] = value
}

// Add accumulates into one voxel channel. Indices must be in range.
func (v *DataVolume) Add(x, y, z, c int, value float64) {
	v.Data[v.index(x, y, z, c)] += value
}

// InBounds reports whether the voxel index lies inside the grid.
func (v *DataVolume) InBounds(x, y, z int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height && z >= 0 && z < v.Depth
}

// ValueAt samples the volume at a coordinate expressed in the given space and
// origin convention, returning one value per channel (a length-1 slice for 3D
// maps). Coordinates outside the grid sample the nearest border voxel.
func (v *DataVolume) ValueAt(x, y, z float64, space tractogram.Space, origin tractogram.Origin) ([]float64, error) {
	vx, vy, vz, err := v.toVoxelCenter(x, y, z, space, origin)
	if err != nil {
		return nil, err
	}
	out := make([]float64, v.Channels)
	switch v.Interp {
	case Nearest:
		xi := clampInt(int(math.Round(vx)), 0, v.Width-1)
		yi := clampInt(int(math.Round(vy)), 0, v.Height-1)
		zi := clampInt(int(math.Round(vz)), 0, v.Depth-1)
		for c := 0; c < v.Channels; c++ {
			out[c] = v.At(xi, yi, zi, c)
		}
	case Trilinear:
		v.sampleTrilinear(vx, vy, vz, out)
	default:
		return nil, fmt.Errorf("unknown interpolation %d", v.Interp)
	}
	return out, nil
}

// toVoxelCenter converts a coordinate in any space/origin convention to
// continuous voxel indices under the center-origin convention, which is what
// the samplers operate in.
func (v *DataVolume) toVoxelCenter(x, y, z float64, space tractogram.Space, origin tractogram.Origin) (float64, float64, float64, error) {
	switch space {
	case tractogram.SpaceVox:
		// Already voxel indices.
	case tractogram.SpaceVoxmm:
		x /= v.VoxelSizes[0]
		y /= v.VoxelSizes[1]
		z /= v.VoxelSizes[2]
	case tractogram.SpaceRasmm:
		var inv mat.Dense
		if err := inv.Inverse(v.affine); err != nil {
			return 0, 0, 0, fmt.Errorf("volume affine is not invertible: %w", err)
		}
		nx := inv.At(0, 0)*x + inv.At(0, 1)*y + inv.At(0, 2)*z + inv.At(0, 3)
		ny := inv.At(1, 0)*x + inv.At(1, 1)*y + inv.At(1, 2)*z + inv.At(1, 3)
		nz := inv.At(2, 0)*x + inv.At(2, 1)*y + inv.At(2, 2)*z + inv.At(2, 3)
		x, y, z = nx, ny, nz
	default:
		return 0, 0, 0, fmt.Errorf("unknown space %v", space)
	}
	if origin == tractogram.OriginCorner {
		x -= 0.5
		y -= 0.5
		z -= 0.5
	}
	return x, y, z, nil
}

func (v *DataVolume) sampleTrilinear(x, y, z float64, out []float64) {
	x0 := clampInt(int(math.Floor(x)), 0, v.Width-1)
	y0 := clampInt(int(math.Floor(y)), 0, v.Height-1)
	z0 := clampInt(int(math.Floor(z)), 0, v.Depth-1)
	x1 := clampInt(x0+1, 0, v.Width-1)
	y1 := clampInt(y0+1, 0, v.Height-1)
	z1 := clampInt(z0+1, 0, v.Depth-1)

	fx := clampFloat(x-float64(x0), 0, 1)
	fy := clampFloat(y-float64(y0), 0, 1)
	fz := clampFloat(z-float64(z0), 0, 1)

	for c := 0; c < v.Channels; c++ {
		c000 := v.At(x0, y0, z0, c)
		c100 := v.At(x1, y0, z0, c)
		c010 := v.At(x0, y1, z0, c)
		c110 := v.At(x1, y1, z0, c)
		c001 := v.At(x0, y0, z1, c)
		c101 := v.At(x1, y0, z1, c)
		c011 := v.At(x0, y1, z1, c)
		c111 := v.At(x1, y1, z1, c)

		c00 := c000*(1-fx) + c100*fx
		c10 := c010*(1-fx) + c110*fx
		c01 := c001*(1-fx) + c101*fx
		c11 := c011*(1-fx) + c111*fx

		c0 := c00*(1-fy) + c10*fy
		c1 := c01*(1-fy) + c11*fy

		out[c] = c0*(1-fz) + c1*fz
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

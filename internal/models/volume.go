package models

// Volume is a dense 3D voxel grid stored as a 1D array in row-major order,
// index z*Width*Height + y*Width + x.
type Volume struct {
	Data []float64

	Width  int
	Height int
	Depth  int

	// VoxelSize is the physical size of each voxel in mm.
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zeroed volume with isotropic 1 mm voxels.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// Index returns the flat offset of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the value of voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dicomreslice/internal/models"
)

// phantomCommand creates the phantom command, which reslices a synthetic
// volume without any DICOM input.
func (c *CLI) phantomCommand() *cobra.Command {
	var size, depth int
	var spacing float64
	var plane, out, format string

	cmd := &cobra.Command{
		Use:   "phantom",
		Short: "Reslice a synthetic ellipsoid volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 2 || depth < 2 {
				return fmt.Errorf("size and depth must be at least 2")
			}
			targets, err := c.targets(plane)
			if err != nil {
				return err
			}
			exporter, err := c.exporter(format)
			if err != nil {
				return err
			}
			if out == "" {
				out = c.Config.Export.OutputDir
			}

			ctx := cmd.Context()
			s := c.newSession()
			if err := s.volumes.Add("phantom", phantom(size, depth, spacing)); err != nil {
				return err
			}
			series, err := s.volumes.Publish(s.rc, "phantom", "z")
			if err != nil {
				return err
			}
			// resampling reads cached source pixels only
			if _, err := s.pipeline.Materialize(ctx, series.ID); err != nil {
				return err
			}
			return c.resliceSeries(ctx, s, series, targets, exporter, out)
		},
	}

	cmd.Flags().IntVar(&size, "size", 64, "in-plane size in voxels")
	cmd.Flags().IntVar(&depth, "depth", 24, "number of axial slices")
	cmd.Flags().Float64Var(&spacing, "spacing", 3, "axial slice spacing in mm")
	cmd.Flags().StringVarP(&plane, "plane", "p", "all", "target plane: axial, coronal, sagittal or all")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "image format: png, jpeg or tiff (default from config)")

	return cmd
}

// phantom builds a size x size x depth volume holding a bright ellipsoid
// shell around a dimmer core, so orientation errors show as asymmetry.
func phantom(size, depth int, spacing float64) *models.Volume {
	v := models.NewVolume(size, size, depth)
	v.VoxelSize.Z = spacing
	cx, cy, cz := float64(size-1)/2, float64(size-1)/2, float64(depth-1)/2
	rx, ry, rz := 0.45*float64(size), 0.35*float64(size), 0.45*float64(depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := (float64(x)-cx)/rx, (float64(y)-cy)/ry, (float64(z)-cz)/rz
				r := dx*dx + dy*dy + dz*dz
				switch {
				case r > 1:
				case r > 0.7:
					v.Data[v.Index(x, y, z)] = 1
				default:
					// gradient along x marks left from right
					v.Data[v.Index(x, y, z)] = 0.2 + 0.3*float64(x)/float64(size)
				}
			}
		}
	}
	return v
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/quality"
)

// verifyCommand creates the verify command.
func (c *CLI) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir|multiframe-file>",
		Short: "Reslice every series to each other plane and back, and compare with the source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := c.newSession()
			series, err := c.load(ctx, s, args[0])
			if err != nil {
				return err
			}

			p := c.print()
			failed := 0
			for _, src := range series {
				p.title("%s", src.ID)
				for _, via := range []orientation.Plane{orientation.Axial, orientation.Coronal, orientation.Sagittal} {
					if via == src.Orientation || (src.Orientation == orientation.Unknown && via == orientation.Axial) {
						continue
					}
					m, err := quality.RoundTrip(ctx, s.pipeline, src, via)
					if err != nil {
						return err
					}
					if m.Identical() {
						p.success("via %s: %d voxels identical", via, m.Voxels)
						continue
					}
					failed++
					p.warning("via %s: %d of %d voxels differ", via, m.Mismatched, m.Voxels)
					p.detail("RMSE %.4f  SSIM %.4f  entropy diff %.4f", m.RMSE, m.SSIM, m.EntropyDiff)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d round trips did not reproduce the source", failed)
			}
			return nil
		},
	}
}

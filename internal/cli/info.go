package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/reslice"
)

// infoCommand creates the info command.
func (c *CLI) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <dir|multiframe-file>",
		Short: "Describe the series found at a path and the planes they can be resliced to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := c.newSession()
			series, err := c.load(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}

			p := c.print()
			for _, src := range series {
				first := src.First()
				m := &first.Metadata
				p.title("%s", src.ID)
				p.keyValue("description", src.Description)
				p.keyValue("plane", src.Orientation.String())
				p.keyValue("slices", fmt.Sprint(src.Len()))
				p.keyValue("size", fmt.Sprintf("%dx%d", m.Columns, m.Rows))
				p.keyValue("spacing", fmt.Sprintf("%.3f x %.3f mm", m.PixelSpacing[1], m.PixelSpacing[0]))
				p.keyValue("thickness", fmt.Sprintf("%.3f mm", m.SliceThickness))

				from := src.Orientation
				if from == orientation.Unknown {
					from = orientation.Axial
				}
				for _, to := range []orientation.Plane{orientation.Axial, orientation.Coronal, orientation.Sagittal} {
					if to == from {
						continue
					}
					table, err := orientation.Lookup(from, to)
					if err != nil {
						p.warning("%s: %v", to, err)
						continue
					}
					g, err := reslice.ComputeGeometry(src, table)
					if err != nil {
						p.warning("%s: %v", to, err)
						continue
					}
					p.info("%s %s: %d slices of %dx%d, spacing %.3f x %.3f mm",
						to, table, g.ToSize[2], g.ToSize[0], g.ToSize[1], g.ToSpacing[0], g.ToSpacing[1])
					if g.DegenerateSpacing {
						p.warning("%s: slice spacing could not be measured", to)
					}
				}
			}
			return nil
		},
	}
}

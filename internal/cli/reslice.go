package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/visualization"
)

// resliceCommand creates the reslice command.
func (c *CLI) resliceCommand() *cobra.Command {
	var plane, out, format string

	cmd := &cobra.Command{
		Use:   "reslice <dir|multiframe-file>",
		Short: "Reslice every series found at a path and export the slices",
		Long: `Reslice loads every DICOM series below a directory (or the frames of one
multi-frame file), builds the requested planes and writes one image per slice
to <out>/<series>/<plane>/.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			series, err := c.load(ctx, s, args[0])
			if err != nil {
				return err
			}
			for _, src := range series {
				if err := c.resliceSeries(ctx, s, src, targets, exporter, out); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&plane, "plane", "p", "all", "target plane: axial, coronal, sagittal or all")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "image format: png, jpeg or tiff (default from config)")

	return cmd
}

// targets resolves the --plane flag. "all" uses the configured plane list.
func (c *CLI) targets(plane string) ([]orientation.Plane, error) {
	if plane == "" || plane == "all" {
		planes := c.Config.Planes()
		if len(planes) == 0 {
			return nil, fmt.Errorf("no target planes configured")
		}
		return planes, nil
	}
	p, err := orientation.ParsePlane(plane)
	if err != nil {
		return nil, err
	}
	return []orientation.Plane{p}, nil
}

func (c *CLI) exporter(format string) (*visualization.Exporter, error) {
	e, err := c.Config.Exporter()
	if err != nil {
		return nil, err
	}
	if format != "" {
		if e.Format, err = visualization.ParseFormat(format); err != nil {
			return nil, err
		}
	}
	e.Logger = c.Logger
	return e, nil
}

// load publishes the series at path: a directory tree of single-frame files
// or one multi-frame file.
func (c *CLI) load(ctx context.Context, s *session, path string) ([]*models.Series, error) {
	if isFile(path) {
		series, err := s.dicom.LoadMultiframe(ctx, path)
		if err != nil {
			return nil, err
		}
		return []*models.Series{series}, nil
	}
	return s.dicom.LoadDir(ctx, path)
}

// resliceSeries builds each target plane of src and writes its slices.
func (c *CLI) resliceSeries(ctx context.Context, s *session, src *models.Series, targets []orientation.Plane, e *visualization.Exporter, out string) error {
	p := c.print()
	own := src.Orientation
	if own == orientation.Unknown {
		own = orientation.Axial
	}
	p.title("%s (%s, %d slices)", src.ID, own, src.Len())

	for _, to := range targets {
		if to == own {
			p.detail("skipping %s: source plane", to)
			continue
		}
		start := time.Now()
		resliced, err := s.pipeline.Reslice(ctx, src.ID, to)
		if err != nil {
			return fmt.Errorf("reslicing %s to %s: %w", src.ID, to, err)
		}
		images, err := s.pipeline.Materialize(ctx, resliced.ID)
		if err != nil {
			return err
		}
		dir := filepath.Join(out, src.ID, to.String())
		files, err := e.SaveSequence(images, dir, to.String())
		if err != nil {
			return err
		}
		p.success("%s: %d slices (%s)", to, len(files), time.Since(start).Round(time.Millisecond))
		p.file(dir)

		// exported slices are not needed again
		if err := s.pipeline.Discard(resliced.ID); err != nil {
			c.Logger.Warn("discard failed", "series", resliced.ID, "err", err)
		}
	}
	return nil
}

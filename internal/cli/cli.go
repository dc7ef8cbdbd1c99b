// Package cli implements the dicomreslice command-line interface.
//
// Commands load DICOM series from disk, reslice them into the other two
// anatomical planes and write the slices out as images. Every command shares
// one registry context, pixel cache and loader registry, built per run by
// newSession.
package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"dicomreslice/pkg/config"
	"dicomreslice/pkg/dicomio"
	"dicomreslice/pkg/loader"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
	"dicomreslice/pkg/reslice"
	"dicomreslice/pkg/visualization"
)

const appName = "dicomreslice"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config *config.Config

	out        io.Writer
	configPath string
	verbose    bool
}

// New creates a CLI logging to logw and printing results to out.
func New(out, logw io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(logw, log.Options{Level: level}),
		Config: config.DefaultConfig(),
		out:    out,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Reslice DICOM series into axial, coronal and sagittal stacks",
		Long:          `dicomreslice loads axially (or coronally, sagittally) acquired DICOM series and synthesizes the other anatomical planes by exact voxel reassignment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.configure()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (.yaml or .toml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.resliceCommand())
	root.AddCommand(c.infoCommand())
	root.AddCommand(c.verifyCommand())
	root.AddCommand(c.phantomCommand())
	root.AddCommand(c.configCommand())

	return root
}

// configure loads the config file and applies its logging section.
func (c *CLI) configure() error {
	if c.configPath != "" {
		cfg, err := config.LoadConfig(c.configPath)
		if err != nil {
			return err
		}
		c.Config = cfg
	}
	level := parseLevel(c.Config.Logging.Level)
	if c.verbose {
		level = log.DebugLevel
	}
	c.Logger.SetLevel(level)
	c.Logger.SetReportTimestamp(c.Config.Logging.Timestamps)
	if c.Config.Logging.Timestamps {
		c.Logger.SetTimeFormat("15:04:05.00")
	}
	return nil
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

func (c *CLI) print() printer { return printer{w: c.out} }

// session is the per-run object graph.
type session struct {
	rc       *registry.Context
	cache    *pixelcache.Cache
	loaders  *loader.Registry
	dicom    *dicomio.Loader
	volumes  *visualization.VolumeSource
	pipeline *reslice.Pipeline
}

func (c *CLI) newSession() *session {
	workers := c.Config.Reslice.Workers
	s := &session{
		rc:      registry.New(),
		cache:   pixelcache.New(),
		volumes: visualization.NewVolumeSource(),
	}
	s.loaders = loader.NewRegistry(s.rc, s.cache, loader.WithLogger(c.Logger))
	s.dicom = dicomio.NewLoader(s.rc, s.cache, dicomio.WithLogger(c.Logger), dicomio.WithWorkers(workers))
	s.dicom.Register(s.loaders)
	s.loaders.Register(visualization.VolumeScheme, s.volumes)
	s.pipeline = reslice.NewPipeline(s.rc, s.cache, s.loaders, reslice.WithLogger(c.Logger), reslice.WithWorkers(workers))
	return s
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

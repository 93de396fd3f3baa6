/*
Copyright © 2019 the gravgrid authors.
This file is part of gravgrid.

gravgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gravgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gravgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package gravgridutil holds the gravgrid command-line interface
// and its configuration.
package gravgridutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gravgrid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information and the command tree
// that uses it.
type Cfg struct {
	*viper.Viper

	Root                                                  *cobra.Command
	versionCmd, parseCmd, assembleCmd, runCmd, inspectCmd *cobra.Command

	log *logrus.Logger
}

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// Log returns the logger configured for the most recently
// executed command.
func (cfg *Cfg) Log() *logrus.Logger {
	if cfg.log == nil {
		return logrus.StandardLogger()
	}
	return cfg.log
}

// InitializeConfig returns a new configuration and command tree.
// Each call returns an independent configuration.
func InitializeConfig() *Cfg {
	cfg := &Cfg{Viper: viper.New()}

	cfg.Root = &cobra.Command{
		Use:   "gravgrid",
		Short: "Convert ICGEM gravity field grids to netCDF.",
		Long: `gravgrid converts gridded gravity, geoid, and topography data in the
ICGEM grid (.gdf) format into combined netCDF datasets, one per location, that
additionally hold the heights of the grid points and of the topography above
the reference ellipsoid.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'GRAVGRID_var' where 'var' is the
name of the variable to be set (with '.' replaced by '_'). Environment
variables may also be set in a .env file. Path configuration variables may
contain environment variables within them.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.loadEnvFile(); err != nil {
				return err
			}
			if err := cfg.setConfig(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Viper)
			if err != nil {
				return err
			}
			log.Out = cmd.OutOrStderr()
			cfg.log = log
			return nil
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "version prints the version number of this version of gravgrid.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("gravgrid v%s\n", gravgrid.Version)
		},
		DisableAutoGenTag: true,
	}

	cfg.parseCmd = &cobra.Command{
		Use:   "parse <file.gdf>",
		Short: "Describe an ICGEM grid file",
		Long: `parse reads a single ICGEM grid file (a local path, an HTTP(S) URL,
or a blob such as gs://bucket/file.gdf), validates its header, and prints
its metadata. If --out is given, the grid is also written to that path as netCDF.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ro, err := readOptions(cfg.Viper)
			if err != nil {
				return err
			}
			path := os.ExpandEnv(args[0])
			r, err := newOpener(cfg.Viper, cfg.Log()).Open(ctx, path)
			if err != nil {
				return fmt.Errorf("gravgridutil: opening %s: %w", path, err)
			}
			g, err := gravgrid.ReadICGEM(r, ro)
			r.Close()
			if err != nil {
				return fmt.Errorf("gravgridutil: %s: %w", path, err)
			}
			if err := printMetadata(cmd.OutOrStdout(), path, g); err != nil {
				return err
			}
			if out := os.ExpandEnv(cfg.GetString("out")); out != "" {
				d, err := gravgrid.NewDataset(g)
				if err != nil {
					return fmt.Errorf("gravgridutil: %s: %w", path, err)
				}
				if err := writeTo(ctx, out, d.Write); err != nil {
					return err
				}
				cfg.Log().WithField("output", out).Info("wrote grid")
			}
			return nil
		},
		DisableAutoGenTag: true,
	}

	cfg.assembleCmd = &cobra.Command{
		Use:   "assemble <location>",
		Short: "Assemble a single location",
		Long: `assemble reads the gravity, geoid, and topography grids of one location,
merges them, computes h_over_ellipsoid (h_over_geoid + geoid) and
topography_ell (topography_grd + geoid), and writes the result to OutputDir
as netCDF, replacing any existing file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			a, err := AssemblerConfig(cfg.Viper, cfg.Log())
			if err != nil {
				return err
			}
			outputDir, err := checkOutputDir(cfg.GetString("OutputDir"))
			if err != nil {
				return err
			}
			out, _, err := AssembleLocation(ctx, a, args[0], outputDir)
			if err != nil {
				return err
			}
			cmd.Println(out)
			return nil
		},
		DisableAutoGenTag: true,
	}

	cfg.runCmd = &cobra.Command{
		Use:   "run",
		Short: "Assemble all locations",
		Long: `run assembles every location in the Locations configuration variable.
Each location is processed independently: a location that fails is reported
but does not prevent the others from being written. The command fails if
any location failed. If ManifestFile is set, a TOML summary of the run
is written there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			a, err := AssemblerConfig(cfg.Viper, cfg.Log())
			if err != nil {
				return err
			}
			outputDir, err := checkOutputDir(cfg.GetString("OutputDir"))
			if err != nil {
				return err
			}
			locations, err := getStringSlice("Locations", cfg.Viper)
			if err != nil {
				return err
			}
			_, err = Run(ctx, cfg.Log(), a, expandStringSlice(locations), outputDir,
				cfg.GetInt("Workers"), os.ExpandEnv(cfg.GetString("ManifestFile")))
			return err
		},
		DisableAutoGenTag: true,
	}

	cfg.inspectCmd = &cobra.Command{
		Use:   "inspect <file.nc>",
		Short: "Describe a gravgrid netCDF file",
		Long: `inspect reads a netCDF file written by gravgrid and prints its
coordinates, fields (with value ranges), sources, and provenance attributes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			path := os.ExpandEnv(args[0])
			f, closeFile, err := openLocal(ctx, newOpener(cfg.Viper, cfg.Log()), path)
			if err != nil {
				return fmt.Errorf("gravgridutil: opening %s: %w", path, err)
			}
			defer closeFile()
			d, err := gravgrid.LoadDataset(f)
			if err != nil {
				return err
			}
			return printDataset(cmd.OutOrStdout(), path, d)
		},
		DisableAutoGenTag: true,
	}

	cfg.Root.AddCommand(cfg.versionCmd, cfg.parseCmd, cfg.assembleCmd, cfg.runCmd, cfg.inspectCmd)

	// Options are the configuration options available to gravgrid.
	options := []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "EnvFile",
			usage: `
              EnvFile specifies a file of environment variables to load
              before reading the configuration. A missing file is ignored.`,
			defaultVal: ".env",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel specifies the minimum level of log messages to print
              (debug, info, warning, or error).`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "LogFormat",
			usage: `
              LogFormat specifies the log message format: text or json.`,
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "Retries",
			usage: `
              Retries specifies how many times a failed read of an input
              from an HTTP(S) URL or blob storage is retried.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "Precision",
			usage: `
              Precision specifies the numeric precision that grid values are
              read and stored with: float32 or float64.`,
			defaultVal: "float32",
			flagsets:   []*pflag.FlagSet{cfg.parseCmd.Flags(), cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "MaskGaps",
			usage: `
              MaskGaps specifies whether values equal to the gapvalue
              given in a grid file header are replaced with NaN.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{cfg.parseCmd.Flags(), cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "out",
			usage: `
              out specifies a path to write the parsed grid to as netCDF.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.parseCmd.Flags()},
		},
		{
			name: "InputDir",
			usage: `
              InputDir specifies the directory that the input grid files are
              read from. It may also be an HTTP(S) URL or a blob storage location
              such as gs://bucket/dir.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir specifies the directory that the output netCDF files are
              written to. It may also be a blob storage location such as
              gs://bucket/dir. Existing files are replaced.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "GravityModel",
			usage: `
              GravityModel specifies the name of the gravity field model, which
              replaces [GRAVITYMODEL] in the file name templates.`,
			defaultVal: "EIGEN-6C4",
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "TopographyModel",
			usage: `
              TopographyModel specifies the name of the topography model, which
              replaces [TOPOMODEL] in the file name templates.`,
			defaultVal: "etopo1",
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "Templates.Gravity",
			usage: `
              Templates.Gravity specifies the name of the gravity grid file of
              a location, where [LOCATION] is replaced by the location name.`,
			defaultVal: gravgrid.DefaultGravityTemplate,
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "Templates.Geoid",
			usage: `
              Templates.Geoid specifies the name of the geoid grid file of
              a location.`,
			defaultVal: gravgrid.DefaultGeoidTemplate,
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "Templates.Topography",
			usage: `
              Templates.Topography specifies the name of the topography grid
              file of a location.`,
			defaultVal: gravgrid.DefaultTopographyTemplate,
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "Templates.Output",
			usage: `
              Templates.Output specifies the name of the output netCDF file of
              a location.`,
			defaultVal: gravgrid.DefaultOutputTemplate,
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "AxisTolerance",
			usage: `
              AxisTolerance specifies the largest difference in degrees allowed
              between the coordinates of the grids of a location. The default
              of 0 requires the grids to have identical coordinates.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{cfg.assembleCmd.Flags(), cfg.runCmd.Flags()},
		},
		{
			name: "Locations",
			usage: `
              Locations specifies the names of the locations to assemble.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers specifies how many locations are assembled at the
              same time.`,
			shorthand:  "w",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
		{
			name: "ManifestFile",
			usage: `
              ManifestFile specifies a path to write a TOML summary of the run to.
              If it is empty, no summary is written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
	}

	// Set the prefix for configuration environment variables.
	cfg.SetEnvPrefix("GRAVGRID")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
	return cfg
}

// setConfig finds and reads in the configuration file, if there is one.
func (cfg *Cfg) setConfig() error {
	if cfgpath := os.ExpandEnv(cfg.GetString("config")); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("gravgridutil: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// loadEnvFile sets environment variables from the file named by the
// EnvFile option. Variables that are already set are not changed.
func (cfg *Cfg) loadEnvFile() error {
	path := os.ExpandEnv(cfg.GetString("EnvFile"))
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("gravgridutil: loading environment file: %v", err)
	}
	return nil
}

// Execute runs the command tree with the command-line arguments.
func (cfg *Cfg) Execute() error {
	return cfg.Root.Execute()
}

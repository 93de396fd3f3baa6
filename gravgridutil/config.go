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

package gravgridutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gravgrid"
	"github.com/spf13/cast"
)

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// getStringSlice returns a []string from a viper configuration,
// accounting for the fact that it might be a comma- or space-separated
// string (possibly in brackets) if it was set from a command line
// argument or an environment variable.
func getStringSlice(varName string, cfg *viper.Viper) ([]string, error) {
	i := cfg.Get(varName)
	if s, ok := i.(string); ok {
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		var o []string
		for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if f = strings.Trim(f, `"'`); f != "" {
				o = append(o, f)
			}
		}
		return o, nil
	}
	o, err := cast.ToStringSliceE(i)
	if err != nil {
		return nil, fmt.Errorf("gravgridutil: reading %s: %v", varName, err)
	}
	return o, nil
}

// checkOutputDir makes sure that the output directory exists, and expands
// any environment variables. Blob locations are not checked.
func checkOutputDir(dir string) (string, error) {
	dir = os.ExpandEnv(dir)
	if dir == "" {
		return ".", nil
	}
	if IsBlob(dir) {
		return dir, nil
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return dir, fmt.Errorf("gravgridutil: the OutputDir directory doesn't exist: %v", err)
	}
	if !fi.IsDir() {
		return dir, fmt.Errorf("gravgridutil: OutputDir '%s' is not a directory", dir)
	}
	return dir, nil
}

// readOptions returns the grid file read options in cfg.
func readOptions(cfg *viper.Viper) (gravgrid.ReadOptions, error) {
	p, err := gravgrid.ParsePrecision(os.ExpandEnv(cfg.GetString("Precision")))
	if err != nil {
		return gravgrid.ReadOptions{}, err
	}
	return gravgrid.ReadOptions{
		Precision: p,
		MaskGaps:  cfg.GetBool("MaskGaps"),
	}, nil
}

// newOpener returns an input opener configured from cfg.
func newOpener(cfg *viper.Viper, log logrus.FieldLogger) *opener {
	return &opener{
		retries: cfg.GetInt("Retries"),
		log:     log,
	}
}

// AssemblerConfig returns a location assembler configured from cfg.
func AssemblerConfig(cfg *viper.Viper, log logrus.FieldLogger) (*gravgrid.Assembler, error) {
	ro, err := readOptions(cfg)
	if err != nil {
		return nil, err
	}
	tol := cfg.GetFloat64("AxisTolerance")
	if tol < 0 {
		return nil, fmt.Errorf("gravgridutil: AxisTolerance must not be negative, but is %g", tol)
	}
	o := newOpener(cfg, log)
	return &gravgrid.Assembler{
		InputDir:        os.ExpandEnv(cfg.GetString("InputDir")),
		GravityModel:    os.ExpandEnv(cfg.GetString("GravityModel")),
		TopographyModel: os.ExpandEnv(cfg.GetString("TopographyModel")),
		Templates: gravgrid.Templates{
			Gravity:    os.ExpandEnv(cfg.GetString("Templates.Gravity")),
			Geoid:      os.ExpandEnv(cfg.GetString("Templates.Geoid")),
			Topography: os.ExpandEnv(cfg.GetString("Templates.Topography")),
			Output:     os.ExpandEnv(cfg.GetString("Templates.Output")),
		},
		ReadOptions:   ro,
		AxisTolerance: tol,
		Open:          o.Open,
		Log:           log,
	}, nil
}

// newLogger returns a logger with the level and format given in cfg.
func newLogger(cfg *viper.Viper) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.GetString("LogLevel"))
	if err != nil {
		return nil, fmt.Errorf("gravgridutil: invalid LogLevel: %v", err)
	}
	log.SetLevel(level)
	switch strings.ToLower(cfg.GetString("LogFormat")) {
	case "text", "":
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		log.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("gravgridutil: invalid LogFormat %q; valid options are text and json", cfg.GetString("LogFormat"))
	}
	return log, nil
}

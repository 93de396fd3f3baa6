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

package gravgrid

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gravgrid/internal/hash"
)

// Names of the fields in an assembled location dataset.
const (
	GravityEarth   = "gravity_earth"
	HOverGeoid     = "h_over_geoid"
	GeoidField     = "geoid"
	TopographyGrd  = "topography_grd"
	HOverEllipsoid = "h_over_ellipsoid"
	TopographyEll  = "topography_ell"
)

// Labels of the three source grids of a location.
const (
	SourceGravity    = "gravity"
	SourceGeoid      = "geoid"
	SourceTopography = "topography"
)

// Default file name templates.
const (
	DefaultGravityTemplate    = "[GRAVITYMODEL]-[LOCATION]-gravity.gdf"
	DefaultGeoidTemplate      = "[GRAVITYMODEL]-[LOCATION]-geoid.gdf"
	DefaultTopographyTemplate = "[TOPOMODEL]-[LOCATION].gdf"
	DefaultOutputTemplate     = "[LOCATION]-gravity.nc"
)

// Templates hold the file name templates for the inputs and output
// of a location. The placeholders [GRAVITYMODEL], [TOPOMODEL], and
// [LOCATION] are replaced with the gravity model name, the topography
// model name, and the location name, respectively.
type Templates struct {
	Gravity, Geoid, Topography, Output string
}

// DefaultTemplates returns the standard ICGEM file naming templates.
func DefaultTemplates() Templates {
	return Templates{
		Gravity:    DefaultGravityTemplate,
		Geoid:      DefaultGeoidTemplate,
		Topography: DefaultTopographyTemplate,
		Output:     DefaultOutputTemplate,
	}
}

// withDefaults fills in empty templates.
func (t Templates) withDefaults() Templates {
	d := DefaultTemplates()
	if t.Gravity == "" {
		t.Gravity = d.Gravity
	}
	if t.Geoid == "" {
		t.Geoid = d.Geoid
	}
	if t.Topography == "" {
		t.Topography = d.Topography
	}
	if t.Output == "" {
		t.Output = d.Output
	}
	return t
}

// Input is one source file of a location.
type Input struct {
	Source string
	Path   string
}

// Assembler combines the gravity, geoid, and topography grids of
// a location into a single Dataset.
type Assembler struct {
	// InputDir is the directory (or URL prefix) that input files
	// are read from.
	InputDir string

	GravityModel, TopographyModel string

	Templates Templates

	ReadOptions   ReadOptions
	AxisTolerance float64

	// Open opens the input at path. If nil, os.Open is used.
	Open func(ctx context.Context, path string) (io.ReadCloser, error)

	// Log receives progress messages. If nil, the standard
	// logrus logger is used.
	Log logrus.FieldLogger

	// RunID is recorded in the output attributes. A random
	// identifier is generated if it is empty.
	RunID string
}

func (a *Assembler) log() logrus.FieldLogger {
	if a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}

func (a *Assembler) expand(template, location string) string {
	return strings.NewReplacer(
		"[GRAVITYMODEL]", a.GravityModel,
		"[TOPOMODEL]", a.TopographyModel,
		"[LOCATION]", location,
	).Replace(template)
}

// Inputs returns the gravity, geoid, and topography inputs of location,
// in the order they are read.
func (a *Assembler) Inputs(location string) []Input {
	t := a.Templates.withDefaults()
	return []Input{
		{Source: SourceGravity, Path: JoinPath(a.InputDir, a.expand(t.Gravity, location))},
		{Source: SourceGeoid, Path: JoinPath(a.InputDir, a.expand(t.Geoid, location))},
		{Source: SourceTopography, Path: JoinPath(a.InputDir, a.expand(t.Topography, location))},
	}
}

// OutputName returns the output file name for location, without
// a directory.
func (a *Assembler) OutputName(location string) string {
	return a.expand(a.Templates.withDefaults().Output, location)
}

// JoinPath joins a file name to a directory, which may be a local
// directory or a URL such as "gs://bucket/dir" or "https://host/dir".
// If dir is empty, name is returned unchanged.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.Contains(dir, "://") {
		return strings.TrimSuffix(dir, "/") + "/" + path.Clean(name)
	}
	return filepath.Join(dir, name)
}

func openFile(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// read opens, parses, and closes one input.
func (a *Assembler) read(ctx context.Context, in Input) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	open := a.Open
	if open == nil {
		open = openFile
	}
	start := time.Now()
	r, err := open(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s grid: %w", in.Source, err)
	}
	defer r.Close()
	g, err := readICGEM(r, a.ReadOptions)
	if err != nil {
		return nil, fmt.Errorf("reading %s grid %s: %w", in.Source, in.Path, err)
	}
	g.Source = in.Source
	a.log().WithFields(logrus.Fields{
		"source": in.Source,
		"path":   in.Path,
		"fields": strings.Join(g.FieldNames(), ","),
		"shape":  fmt.Sprintf("%dx%d", len(g.Lat), len(g.Lon)),
		"time":   time.Since(start),
	}).Debug("read grid")
	return g, nil
}

// Assemble reads the three grids of location, merges them, and
// adds the ellipsoidal heights
//
//	h_over_ellipsoid = h_over_geoid + geoid
//	topography_ell = topography_grd + geoid
//
// Inputs are read one at a time, each being closed before the
// next is opened.
func (a *Assembler) Assemble(ctx context.Context, location string) (*Dataset, error) {
	inputs := a.Inputs(location)
	grids := make([]*Grid, len(inputs))
	for i, in := range inputs {
		g, err := a.read(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("gravgrid: assembling %s: %w", location, err)
		}
		grids[i] = g
	}

	d, err := merge(MergeOptions{AxisTolerance: a.AxisTolerance}, grids...)
	if err != nil {
		return nil, fmt.Errorf("gravgrid: assembling %s: %w", location, err)
	}
	d.Location = location
	if err := d.addSum(HOverEllipsoid, HOverGeoid, GeoidField, quantityDescriptions[HOverEllipsoid].description); err != nil {
		return nil, fmt.Errorf("gravgrid: assembling %s: %w", location, err)
	}
	if err := d.addSum(TopographyEll, TopographyGrd, GeoidField, quantityDescriptions[TopographyEll].description); err != nil {
		return nil, fmt.Errorf("gravgrid: assembling %s: %w", location, err)
	}

	runID := a.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	headers := make([]string, len(grids))
	for i, g := range grids {
		headers[i] = g.Header
	}
	d.Attributes["run_id"] = runID
	d.Attributes["gravgrid_version"] = Version
	d.Attributes["gravity_model"] = a.GravityModel
	d.Attributes["topography_model"] = a.TopographyModel
	d.Attributes["source_fingerprint"] = hash.Fingerprint(headers...)
	for _, g := range grids {
		if g.Meta.ModelName != "" {
			d.Attributes["modelname_"+g.Source] = g.Meta.ModelName
		}
	}

	a.log().WithFields(logrus.Fields{
		"location": location,
		"fields":   strings.Join(d.FieldNames(), ","),
	}).Info("assembled location")
	return d, nil
}

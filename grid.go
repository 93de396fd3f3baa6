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
	"fmt"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
)

// Version gives the version number.
const Version = "0.3.0"

// Precision specifies the numeric precision that grid values are parsed
// and stored with.
type Precision int

const (
	// Float32 stores values as 32-bit floating point numbers. It is the default.
	Float32 Precision = iota
	// Float64 stores values as 64-bit floating point numbers.
	Float64
)

// ParsePrecision converts a configuration string ("float32", "float64",
// "f4", or "f8") into a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f4", "":
		return Float32, nil
	case "float64", "f8":
		return Float64, nil
	default:
		return Float32, fmt.Errorf("gravgrid: invalid precision %q; valid options are float32 and float64", s)
	}
}

func (p Precision) String() string {
	if p == Float64 {
		return "float64"
	}
	return "float32"
}

// bitSize is the bit size argument for strconv.ParseFloat.
func (p Precision) bitSize() int {
	if p == Float64 {
		return 64
	}
	return 32
}

// round rounds v in place to the precision p.
func (p Precision) round(v []float64) {
	if p == Float64 {
		return
	}
	for i, x := range v {
		v[i] = float64(float32(x))
	}
}

// Field is one named 2-D array of a grid, with shape
// (latitude, longitude).
type Field struct {
	Name        string
	Units       string
	Description string

	// Header is the raw header text of the file the field was read from.
	// It is empty for derived fields.
	Header string

	Data *sparse.DenseArray
}

// Grid holds the contents of one ICGEM grid file.
type Grid struct {
	// Lat holds latitudes in ascending (south to north) order.
	Lat []float64
	// Lon holds longitudes in ascending order, remapped to [-180, 180].
	Lon []float64

	Fields []*Field

	Meta      GridMetadata
	Header    string
	Precision Precision

	// Source is a label for where the grid came from (e.g., "gravity").
	Source string
}

// Field returns the field with the given name, or nil if
// it does not exist.
func (g *Grid) Field(name string) *Field {
	return findField(g.Fields, name)
}

// FieldNames returns the names of the fields in g, in order.
func (g *Grid) FieldNames() []string {
	return fieldNames(g.Fields)
}

// Bounds returns the extent of the grid points.
func (g *Grid) Bounds() orb.Bound {
	return axisBounds(g.Lat, g.Lon)
}

func findField(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func fieldNames(fields []*Field) []string {
	o := make([]string, len(fields))
	for i, f := range fields {
		o[i] = f.Name
	}
	return o
}

func axisBounds(lat, lon []float64) orb.Bound {
	if len(lat) == 0 || len(lon) == 0 {
		return orb.Bound{}
	}
	return orb.Bound{
		Min: orb.Point{floats.Min(lon), floats.Min(lat)},
		Max: orb.Point{floats.Max(lon), floats.Max(lat)},
	}
}

// linspace returns n evenly spaced values from lo to hi inclusive.
// A single-value axis holds lo.
func linspace(n int, lo, hi float64) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	o := floats.Span(make([]float64, n), lo, hi)
	o[n-1] = hi
	return o
}

// wrapLongitude converts longitudes in the 0 to 360 convention to the
// -180 to 180 convention. Values that are not greater than 180 are unchanged.
func wrapLongitude(lon []float64) {
	for i, v := range lon {
		if v > 180 {
			lon[i] = v - 360
		}
	}
}

// quantityDescriptions describes the ICGEM functionals that are commonly
// found in gravity, geoid, and topography grids.
var quantityDescriptions = map[string]struct{ description, units string }{
	"gravity_earth":       {"gravity of the Earth (gravitation plus centrifugal acceleration)", "mgal"},
	"gravitation_ell":     {"gravitation of the Earth at the ellipsoid", "mgal"},
	"gravity_anomaly":     {"gravity anomaly (classical, spherical approximation)", "mgal"},
	"gravity_disturbance": {"gravity disturbance", "mgal"},
	"h_over_geoid":        {"orthometric height of the computation point above the geoid", "meter"},
	"geoid":               {"geoid height above the reference ellipsoid", "meter"},
	"height_anomaly":      {"height anomaly", "meter"},
	"topography_grd":      {"topographic height above the geoid", "meter"},
	HeightOverEllField:    {"constant height of the computation points above the ellipsoid", "meter"},
	HOverEllipsoid:        {"ellipsoidal height of the computation point (h_over_geoid + geoid)", "meter"},
	TopographyEll:         {"topographic height above the ellipsoid (topography_grd + geoid)", "meter"},
}

// describe fills in the description of f, and its units if they
// weren't given in the file.
func describe(f *Field) {
	q, ok := quantityDescriptions[f.Name]
	if !ok {
		return
	}
	f.Description = q.description
	if f.Units == "" {
		f.Units = q.units
	}
}

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
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
)

// These errors are returned (wrapped) when grids cannot be combined.
var (
	ErrAxisMismatch  = errors.New("grid coordinate axes do not match")
	ErrFieldConflict = errors.New("conflicting values for field")
	ErrMissingField  = errors.New("missing field")
)

// Dataset holds several grids that share the same coordinate axes,
// merged into one collection of fields.
type Dataset struct {
	Location string

	Lat, Lon  []float64
	Precision Precision

	Fields []*Field

	// Headers holds the raw header text of each source grid,
	// keyed by the source label.
	Headers map[string]string

	// Attributes holds provenance information that will be written
	// as global attributes.
	Attributes map[string]string
}

// Field returns the field with the given name, or nil if
// it does not exist.
func (d *Dataset) Field(name string) *Field {
	return findField(d.Fields, name)
}

// FieldNames returns the names of the fields in d, in order.
func (d *Dataset) FieldNames() []string {
	return fieldNames(d.Fields)
}

// Bounds returns the extent of the grid points in d.
func (d *Dataset) Bounds() orb.Bound {
	return axisBounds(d.Lat, d.Lon)
}

// MergeOptions specify how grids are merged.
type MergeOptions struct {
	// AxisTolerance is the largest absolute difference in degrees
	// allowed between corresponding coordinate values of merged grids.
	// Zero requires exact equality.
	AxisTolerance float64
}

// Merge combines the given grids into a Dataset. All grids must
// have the same latitude and longitude axes (within opts.AxisTolerance),
// otherwise an error wrapping ErrAxisMismatch is returned.
// A field that appears in more than one grid is kept once if
// its values are identical and is an error otherwise.
// The returned Dataset shares field data with the input grids.
func Merge(opts MergeOptions, grids ...*Grid) (*Dataset, error) {
	d, err := merge(opts, grids...)
	if err != nil {
		return nil, fmt.Errorf("gravgrid: %w", err)
	}
	return d, nil
}

func merge(opts MergeOptions, grids ...*Grid) (*Dataset, error) {
	if len(grids) == 0 {
		return nil, errors.New("no grids to merge")
	}
	first := grids[0]
	d := &Dataset{
		Lat:        append([]float64(nil), first.Lat...),
		Lon:        append([]float64(nil), first.Lon...),
		Precision:  first.Precision,
		Headers:    make(map[string]string),
		Attributes: make(map[string]string),
	}
	for i, g := range grids {
		if i > 0 {
			if err := compareAxis("latitude", first, g, first.Lat, g.Lat, opts.AxisTolerance); err != nil {
				return nil, err
			}
			if err := compareAxis("longitude", first, g, first.Lon, g.Lon, opts.AxisTolerance); err != nil {
				return nil, err
			}
		}
		if g.Precision > d.Precision {
			d.Precision = g.Precision
		}
		d.Headers[sourceLabel(g, i)] = g.Header

		for _, f := range g.Fields {
			existing := d.Field(f.Name)
			if existing == nil {
				d.Fields = append(d.Fields, f)
				continue
			}
			if !sameValues(existing.Data.Elements, f.Data.Elements) {
				return nil, fmt.Errorf("merging %s into %s: %w %s",
					sourceLabel(g, i), sourceLabel(first, 0), ErrFieldConflict, f.Name)
			}
		}
	}
	return d, nil
}

func sourceLabel(g *Grid, i int) string {
	if g.Source != "" {
		return g.Source
	}
	return fmt.Sprintf("grid%d", i)
}

func compareAxis(axis string, a, b *Grid, av, bv []float64, tolerance float64) error {
	if len(av) != len(bv) {
		return fmt.Errorf("%w: %s has %d %s values but %s has %d",
			ErrAxisMismatch, sourceLabel(a, 0), len(av), axis, sourceLabel(b, 1), len(bv))
	}
	for i := range av {
		if !floats.EqualWithinAbs(av[i], bv[i], tolerance) {
			return fmt.Errorf("%w: %s index %d is %g in %s but %g in %s",
				ErrAxisMismatch, axis, i, av[i], sourceLabel(a, 0), bv[i], sourceLabel(b, 1))
		}
	}
	return nil
}

// sameValues returns whether a and b hold the same values,
// treating NaNs as equal to each other.
func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] && !(math.IsNaN(v) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

// AddSum adds a new field called name whose values are the
// elementwise sum of fields a and b, rounded to the precision of d.
// The new field takes its units from a.
func (d *Dataset) AddSum(name, a, b, description string) error {
	if err := d.addSum(name, a, b, description); err != nil {
		return fmt.Errorf("gravgrid: %w", err)
	}
	return nil
}

func (d *Dataset) addSum(name, a, b, description string) error {
	fa, fb := d.Field(a), d.Field(b)
	if fa == nil {
		return fmt.Errorf("calculating %s: %w %s", name, ErrMissingField, a)
	}
	if fb == nil {
		return fmt.Errorf("calculating %s: %w %s", name, ErrMissingField, b)
	}
	if d.Field(name) != nil {
		return fmt.Errorf("calculating %s: %w %s: field already exists", name, ErrFieldConflict, name)
	}
	o := sparse.ZerosDense(fa.Data.Shape...)
	floats.AddTo(o.Elements, fa.Data.Elements, fb.Data.Elements)
	d.Precision.round(o.Elements)
	d.Fields = append(d.Fields, &Field{
		Name:        name,
		Units:       fa.Units,
		Description: description,
		Data:        o,
	})
	return nil
}

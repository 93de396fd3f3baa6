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
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

const (
	latDim = "lat"
	lonDim = "lon"

	headerAttrPrefix = "header_"
)

// reservedAttributes are global attributes that Write sets itself.
var reservedAttributes = map[string]bool{
	"title":                 true,
	"Conventions":           true,
	"location":              true,
	"geospatial_lat_min":    true,
	"geospatial_lat_max":    true,
	"geospatial_lon_min":    true,
	"geospatial_lon_max":    true,
	"geospatial_lat_units":  true,
	"geospatial_lon_units":  true,
	"geospatial_bounds_crs": true,
}

// NewDataset returns a Dataset holding the fields of a single grid.
// It fails if g has two fields with the same name.
func NewDataset(g *Grid) (*Dataset, error) {
	return Merge(MergeOptions{}, g)
}

// Write writes d to w in netCDF classic format. The file has
// dimensions lat and lon, coordinate variables of the same names,
// and one variable for each field, in field order.
func (d *Dataset) Write(w *os.File) error {
	h := cdf.NewHeader([]string{latDim, lonDim}, []int{len(d.Lat), len(d.Lon)})

	title := "gridded gravity field data"
	if d.Location != "" {
		title = fmt.Sprintf("gravity field data for %s", d.Location)
	}
	h.AddAttribute("", "title", title)
	h.AddAttribute("", "Conventions", "CF-1.6")
	if d.Location != "" {
		h.AddAttribute("", "location", d.Location)
	}
	b := d.Bounds()
	h.AddAttribute("", "geospatial_lat_min", []float64{b.Min.Lat()})
	h.AddAttribute("", "geospatial_lat_max", []float64{b.Max.Lat()})
	h.AddAttribute("", "geospatial_lon_min", []float64{b.Min.Lon()})
	h.AddAttribute("", "geospatial_lon_max", []float64{b.Max.Lon()})
	h.AddAttribute("", "geospatial_lat_units", "degrees_north")
	h.AddAttribute("", "geospatial_lon_units", "degrees_east")

	// Sort the names so they write in the same order every time.
	for _, src := range sortedKeys(d.Headers) {
		if d.Headers[src] != "" {
			h.AddAttribute("", headerAttrPrefix+src, d.Headers[src])
		}
	}
	for _, k := range sortedKeys(d.Attributes) {
		if reservedAttributes[k] || strings.HasPrefix(k, headerAttrPrefix) || d.Attributes[k] == "" {
			continue
		}
		h.AddAttribute("", k, d.Attributes[k])
	}

	h.AddVariable(latDim, []string{latDim}, []float64{0})
	h.AddAttribute(latDim, "units", "degrees_north")
	h.AddAttribute(latDim, "standard_name", "latitude")
	h.AddAttribute(latDim, "long_name", "latitude")
	h.AddVariable(lonDim, []string{lonDim}, []float64{0})
	h.AddAttribute(lonDim, "units", "degrees_east")
	h.AddAttribute(lonDim, "standard_name", "longitude")
	h.AddAttribute(lonDim, "long_name", "longitude")

	seen := map[string]bool{latDim: true, lonDim: true}
	for _, f := range d.Fields {
		if seen[f.Name] {
			return fmt.Errorf("gravgrid: duplicate netcdf variable name %q", f.Name)
		}
		seen[f.Name] = true
		if d.Precision == Float64 {
			h.AddVariable(f.Name, []string{latDim, lonDim}, []float64{0})
		} else {
			h.AddVariable(f.Name, []string{latDim, lonDim}, []float32{0})
		}
		for _, a := range [][2]string{{"units", f.Units}, {"description", f.Description}, {"header", f.Header}} {
			if a[1] != "" {
				h.AddAttribute(f.Name, a[0], a[1])
			}
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("gravgrid: invalid netcdf header: %v", errs[0])
	}

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return fmt.Errorf("gravgrid: writing netcdf header: %w", err)
	}
	if err := writeVar(f, latDim, d.Lat, Float64); err != nil {
		return err
	}
	if err := writeVar(f, lonDim, d.Lon, Float64); err != nil {
		return err
	}
	for _, fld := range d.Fields {
		if fld.Data == nil || len(fld.Data.Shape) != 2 || fld.Data.Shape[0] != len(d.Lat) || fld.Data.Shape[1] != len(d.Lon) {
			return fmt.Errorf("gravgrid: field %s does not have shape (%d, %d)", fld.Name, len(d.Lat), len(d.Lon))
		}
		if err := writeVar(f, fld.Name, fld.Data.Elements, d.Precision); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeVar(f *cdf.File, name string, data []float64, p Precision) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	var err error
	if p == Float64 {
		_, err = w.Write(data)
	} else {
		data32 := make([]float32, len(data))
		for i, e := range data {
			data32[i] = float32(e)
		}
		_, err = w.Write(data32)
	}
	if err != nil {
		return fmt.Errorf("gravgrid: writing variable %s to netcdf file: %w", name, err)
	}
	return nil
}

// WriteFile writes d to a netCDF file at path, replacing any
// existing file.
func WriteFile(path string, d *Dataset) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("gravgrid: creating output file: %w", err)
	}
	if err := d.Write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// LoadDataset reads a Dataset from a netCDF file written by Write.
func LoadDataset(rw cdf.ReaderWriterAt) (*Dataset, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("gravgrid.LoadDataset: %w", err)
	}
	d := &Dataset{
		Headers:    make(map[string]string),
		Attributes: make(map[string]string),
	}
	for _, a := range f.Header.Attributes("") {
		s, ok := f.Header.GetAttribute("", a).(string)
		switch {
		case !ok:
		case a == "location":
			d.Location = s
		case strings.HasPrefix(a, headerAttrPrefix):
			d.Headers[strings.TrimPrefix(a, headerAttrPrefix)] = s
		case !reservedAttributes[a]:
			d.Attributes[a] = s
		}
	}

	if d.Lat, _, err = readVar(f, latDim); err != nil {
		return nil, err
	}
	if d.Lon, _, err = readVar(f, lonDim); err != nil {
		return nil, err
	}

	for _, v := range f.Header.Variables() {
		if v == latDim || v == lonDim {
			continue
		}
		dims := f.Header.Dimensions(v)
		if len(dims) != 2 || dims[0] != latDim || dims[1] != lonDim {
			continue
		}
		data, p, err := readVar(f, v)
		if err != nil {
			return nil, err
		}
		if p == Float64 {
			d.Precision = Float64
		}
		fld := &Field{
			Name:        v,
			Units:       stringAttribute(f.Header, v, "units"),
			Description: stringAttribute(f.Header, v, "description"),
			Header:      stringAttribute(f.Header, v, "header"),
			Data:        sparse.ZerosDense(len(d.Lat), len(d.Lon)),
		}
		copy(fld.Data.Elements, data)
		d.Fields = append(d.Fields, fld)
	}
	return d, nil
}

func readVar(f *cdf.File, name string) ([]float64, Precision, error) {
	if len(f.Header.Lengths(name)) == 0 {
		return nil, Float32, fmt.Errorf("gravgrid.LoadDataset: variable %s not in file", name)
	}
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, Float32, fmt.Errorf("gravgrid.LoadDataset: reading variable %s: %w", name, err)
	}
	switch b := buf.(type) {
	case []float64:
		return b, Float64, nil
	case []float32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, Float32, nil
	default:
		return nil, Float32, fmt.Errorf("gravgrid.LoadDataset: variable %s has unsupported type %T", name, buf)
	}
}

func stringAttribute(h *cdf.Header, v, a string) string {
	s, _ := h.GetAttribute(v, a).(string)
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

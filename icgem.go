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
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/paulmach/orb"
)

// headerEnd starts the line that terminates an ICGEM header.
const headerEnd = "end_of_head"

// HeightOverEllField is the name of the field that is added to a grid
// when its header declares a constant height above the ellipsoid.
const HeightOverEllField = "height_over_ell"

// These errors are returned (wrapped) when an ICGEM file is malformed.
var (
	ErrNoHeaderEnd        = errors.New("header terminator 'end_of_head' not found")
	ErrBadHeaderValue     = errors.New("invalid header value")
	ErrMissingShape       = errors.New("grid shape (latitude_parallels and longitude_parallels) not set")
	ErrMissingPointCount  = errors.New("number_of_gridpoints not set")
	ErrShapeMismatch      = errors.New("latitude_parallels * longitude_parallels != number_of_gridpoints")
	ErrMissingFieldNames  = errors.New("data field names not found in header")
	ErrDuplicateField     = errors.New("duplicate field name")
	ErrFieldCountMismatch = errors.New("number of field names does not match number of data columns minus 2")
	ErrMissingBounds      = errors.New("grid limits (latlimit_south, latlimit_north, longlimit_west, longlimit_east) not set")
	ErrPointCountMismatch = errors.New("number of data rows does not match number_of_gridpoints")
	ErrBadValue           = errors.New("invalid numeric value")
)

// GridMetadata holds the information in an ICGEM grid file header.
type GridMetadata struct {
	// Bounds holds the grid limits in degrees: Min is (west, south)
	// and Max is (east, north).
	Bounds orb.Bound

	LatCount, LonCount int
	PointCount         int

	// HeightOverEll is the constant height of the computation points
	// above the ellipsoid, if the header declares one.
	HeightOverEll      *float64
	HeightOverEllUnits string

	// GapValue marks missing values in the data, if the header declares one.
	GapValue *float64

	ModelName string

	// FieldNames are the names of the data columns, excluding the
	// two coordinate columns.
	FieldNames []string
	// FieldUnits are the units of each data column, or empty strings
	// if the header doesn't specify them.
	FieldUnits []string

	// Header is the raw header text, excluding the terminator line.
	Header string
}

// ReadOptions specify how ICGEM files are read.
type ReadOptions struct {
	Precision Precision

	// MaskGaps specifies whether values equal to the header gapvalue
	// should be replaced with NaN.
	MaskGaps bool
}

// header accumulates header values as they are read.
type header struct {
	latCount, lonCount, pointCount *int
	south, north, west, east       *float64
	heightOverEll, gapValue        *float64
	heightUnits, modelName         string
	fieldNames, fieldUnits         []string
	lines                          []string
}

// headerKeys maps the recognized header keys to setters. Other keys
// are ignored.
var headerKeys = map[string]func(h *header, tokens []string) error{
	"height_over_ell": func(h *header, t []string) error {
		h.heightUnits = "m"
		if len(t) > 2 {
			h.heightUnits = t[2]
		}
		return setFloat(&h.heightOverEll, t[1])
	},
	"latitude_parallels":   func(h *header, t []string) error { return setInt(&h.latCount, t[1]) },
	"longitude_parallels":  func(h *header, t []string) error { return setInt(&h.lonCount, t[1]) },
	"number_of_gridpoints": func(h *header, t []string) error { return setInt(&h.pointCount, t[1]) },
	"latlimit_south":       func(h *header, t []string) error { return setFloat(&h.south, t[1]) },
	"latlimit_north":       func(h *header, t []string) error { return setFloat(&h.north, t[1]) },
	"longlimit_west":       func(h *header, t []string) error { return setFloat(&h.west, t[1]) },
	"longlimit_east":       func(h *header, t []string) error { return setFloat(&h.east, t[1]) },
	"gapvalue":             func(h *header, t []string) error { return setFloat(&h.gapValue, t[1]) },
	"modelname":            func(h *header, t []string) error { h.modelName = t[1]; return nil },
}

func setFloat(dst **float64, s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

func setInt(dst **int, s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

// ParseFile reads the ICGEM grid file at path.
func ParseFile(path string, opts ReadOptions) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gravgrid: opening ICGEM grid: %w", err)
	}
	defer f.Close()
	g, err := readICGEM(f, opts)
	if err != nil {
		return nil, fmt.Errorf("gravgrid: reading ICGEM grid %s: %w", path, err)
	}
	return g, nil
}

// ReadICGEM reads an ICGEM grid (.gdf) from r. The header is
// validated before any of the data is read.
func ReadICGEM(r io.Reader, opts ReadOptions) (*Grid, error) {
	g, err := readICGEM(r, opts)
	if err != nil {
		return nil, fmt.Errorf("gravgrid: reading ICGEM grid: %w", err)
	}
	return g, nil
}

func readICGEM(r io.Reader, opts ReadOptions) (*Grid, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	meta, err := h.metadata()
	if err != nil {
		return nil, err
	}
	data, err := readBody(br, meta, opts)
	if err != nil {
		return nil, err
	}

	g := &Grid{
		Lat:       linspace(meta.LatCount, meta.Bounds.Min.Lat(), meta.Bounds.Max.Lat()),
		Lon:       linspace(meta.LonCount, meta.Bounds.Min.Lon(), meta.Bounds.Max.Lon()),
		Meta:      *meta,
		Header:    meta.Header,
		Precision: opts.Precision,
	}
	wrapLongitude(g.Lon)

	for i, name := range meta.FieldNames {
		f := &Field{
			Name:   name,
			Units:  meta.FieldUnits[i],
			Header: meta.Header,
			Data:   data[i],
		}
		describe(f)
		g.Fields = append(g.Fields, f)
	}
	if meta.HeightOverEll != nil {
		d := sparse.ZerosDense(meta.LatCount, meta.LonCount)
		for i := range d.Elements {
			d.Elements[i] = *meta.HeightOverEll
		}
		opts.Precision.round(d.Elements)
		f := &Field{
			Name:   HeightOverEllField,
			Units:  meta.HeightOverEllUnits,
			Header: meta.Header,
			Data:   d,
		}
		describe(f)
		g.Fields = append(g.Fields, f)
	}
	return g, nil
}

// readHeader reads lines up to and including the header terminator.
func readHeader(br *bufio.Reader) (*header, error) {
	h := new(header)
	var afterBlank, afterFields bool
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, headerEnd) {
			return h, nil
		}
		if err == io.EOF {
			return nil, ErrNoHeaderEnd
		}
		h.lines = append(h.lines, strings.TrimRight(line, "\r\n"))

		if trimmed == "" {
			afterBlank, afterFields = true, false
			continue
		}
		tokens := strings.Fields(trimmed)
		switch {
		case afterBlank:
			h.fieldNames = make([]string, 0, len(tokens))
			if len(tokens) > 2 {
				h.fieldNames = append(h.fieldNames, tokens[2:]...)
			}
			h.fieldUnits = nil
			afterFields = true
		case afterFields && isUnitsLine(tokens, len(h.fieldNames)+2):
			for _, t := range tokens[2:] {
				h.fieldUnits = append(h.fieldUnits, strings.Trim(t, "[]"))
			}
			afterFields = false
		default:
			afterFields = false
		}
		afterBlank = false

		if set, ok := headerKeys[tokens[0]]; ok {
			if len(tokens) < 2 {
				return nil, fmt.Errorf("%w: %s has no value", ErrBadHeaderValue, tokens[0])
			}
			if err := set(h, tokens); err != nil {
				return nil, fmt.Errorf("%w: %s %q: %v", ErrBadHeaderValue, tokens[0], tokens[1], err)
			}
		}
	}
}

// isUnitsLine returns whether tokens is a line of n bracketed units,
// for example "[deg] [deg] [mgal]".
func isUnitsLine(tokens []string, n int) bool {
	if len(tokens) != n {
		return false
	}
	for _, t := range tokens {
		if !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, "]") {
			return false
		}
	}
	return true
}

// metadata checks that h holds everything needed to read the grid body
// and returns the corresponding metadata.
func (h *header) metadata() (*GridMetadata, error) {
	if h.latCount == nil || h.lonCount == nil {
		return nil, ErrMissingShape
	}
	if *h.latCount < 1 || *h.lonCount < 1 {
		return nil, fmt.Errorf("%w: latitude_parallels=%d, longitude_parallels=%d",
			ErrMissingShape, *h.latCount, *h.lonCount)
	}
	if h.pointCount == nil {
		return nil, ErrMissingPointCount
	}
	nLat, nLon, n := *h.latCount, *h.lonCount, *h.pointCount
	if n < 1 || n%nLat != 0 || n/nLat != nLon {
		return nil, fmt.Errorf("%w: %d * %d != %d", ErrShapeMismatch, nLat, nLon, n)
	}
	if len(h.fieldNames) == 0 {
		return nil, ErrMissingFieldNames
	}
	seen := make(map[string]bool, len(h.fieldNames))
	for _, name := range h.fieldNames {
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, name)
		}
		seen[name] = true
	}
	if h.heightOverEll != nil && seen[HeightOverEllField] {
		return nil, fmt.Errorf("%w: %s is both a data column and a header value", ErrDuplicateField, HeightOverEllField)
	}
	if h.south == nil || h.north == nil || h.west == nil || h.east == nil {
		return nil, ErrMissingBounds
	}

	m := &GridMetadata{
		Bounds: orb.Bound{
			Min: orb.Point{*h.west, *h.south},
			Max: orb.Point{*h.east, *h.north},
		},
		LatCount:           nLat,
		LonCount:           nLon,
		PointCount:         n,
		HeightOverEll:      h.heightOverEll,
		HeightOverEllUnits: h.heightUnits,
		GapValue:           h.gapValue,
		ModelName:          h.modelName,
		FieldNames:         h.fieldNames,
		FieldUnits:         h.fieldUnits,
		Header:             strings.Join(h.lines, "\n"),
	}
	if len(m.FieldUnits) != len(m.FieldNames) {
		m.FieldUnits = make([]string, len(m.FieldNames))
	}
	return m, nil
}

// readBody reads the numeric rows following the header. The first
// two columns (the point coordinates) are discarded. Rows are given
// north to south, so the output row order is reversed.
func readBody(br *bufio.Reader, m *GridMetadata, opts ReadOptions) ([]*sparse.DenseArray, error) {
	nf := len(m.FieldNames)
	data := make([]*sparse.DenseArray, nf)
	for i := range data {
		data[i] = sparse.ZerosDense(m.LatCount, m.LonCount)
	}

	gap := math.NaN()
	if opts.MaskGaps && m.GapValue != nil {
		g := []float64{*m.GapValue}
		opts.Precision.round(g)
		gap = g[0]
	}

	s := bufio.NewScanner(br)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	bits := opts.Precision.bitSize()
	var p, lineNum int
	for s.Scan() {
		lineNum++
		tokens := strings.Fields(s.Text())
		if len(tokens) == 0 {
			continue
		}
		if len(tokens)-2 != nf {
			return nil, fmt.Errorf("%w: %d field names but %d data columns on data line %d",
				ErrFieldCountMismatch, nf, len(tokens), lineNum)
		}
		if p >= m.PointCount {
			return nil, fmt.Errorf("%w: more than %d rows", ErrPointCountMismatch, m.PointCount)
		}
		i := (m.LatCount-1-p/m.LonCount)*m.LonCount + p%m.LonCount
		for j, t := range tokens[2:] {
			v, err := strconv.ParseFloat(t, bits)
			if err != nil {
				return nil, fmt.Errorf("%w: data line %d, column %d: %v", ErrBadValue, lineNum, j+3, err)
			}
			if v == gap {
				v = math.NaN()
			}
			data[j].Elements[i] = v
		}
		p++
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if p != m.PointCount {
		return nil, fmt.Errorf("%w: %d rows, expected %d", ErrPointCountMismatch, p, m.PointCount)
	}
	return data, nil
}

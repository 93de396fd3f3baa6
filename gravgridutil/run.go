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
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gravgrid"
	"gonum.org/v1/gonum/floats"
)

// AssembleLocation assembles location with a and writes the result
// to outputDir, replacing any existing file. It returns the output
// path and the names of the fields that were written.
func AssembleLocation(ctx context.Context, a *gravgrid.Assembler, location, outputDir string) (string, []string, error) {
	d, err := a.Assemble(ctx, location)
	if err != nil {
		return "", nil, err
	}
	out := gravgrid.JoinPath(outputDir, a.OutputName(location))
	if err := writeTo(ctx, out, d.Write); err != nil {
		return "", nil, fmt.Errorf("gravgridutil: writing %s: %w", location, err)
	}
	return out, d.FieldNames(), nil
}

// Run assembles every location and writes the results to outputDir.
// Locations are independent: the returned results, in the same order
// as locations, record which ones succeeded. If manifestFile is not
// empty a TOML summary of the run is written there.
// An error is returned if any location failed.
func Run(ctx context.Context, log logrus.FieldLogger, a *gravgrid.Assembler, locations []string, outputDir string, workers int, manifestFile string) ([]gravgrid.Result, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("gravgridutil: no locations specified; set the Locations configuration variable")
	}
	if a.RunID == "" {
		a.RunID = uuid.New().String()
	}
	start := time.Now()
	log.WithFields(logrus.Fields{
		"run_id":    a.RunID,
		"locations": len(locations),
		"workers":   workers,
	}).Info("starting batch")

	results := gravgrid.RunBatch(ctx, locations, workers, func(ctx context.Context, r *gravgrid.Result) error {
		var err error
		r.Output, r.Fields, err = AssembleLocation(ctx, a, r.Location, outputDir)
		return err
	})

	for _, r := range results {
		l := log.WithFields(logrus.Fields{
			"location": r.Location,
			"time":     r.Duration,
		})
		if r.Err != nil {
			l.WithError(r.Err).Error("location failed")
		} else {
			l.WithField("output", r.Output).Info("location complete")
		}
	}
	failed := gravgrid.Failed(results)
	log.WithFields(logrus.Fields{
		"run_id":    a.RunID,
		"succeeded": len(results) - len(failed),
		"failed":    len(failed),
		"time":      time.Since(start),
	}).Info("batch complete")

	if manifestFile != "" {
		m := newManifest(a.RunID, a, start, results)
		if err := writeManifest(ctx, manifestFile, m); err != nil {
			return results, err
		}
	}
	if len(failed) > 0 {
		names := make([]string, len(failed))
		for i, r := range failed {
			names[i] = r.Location
		}
		return results, fmt.Errorf("gravgridutil: %d of %d locations failed: %s",
			len(failed), len(results), strings.Join(names, ", "))
	}
	return results, nil
}

// printMetadata writes a description of grid g to w.
func printMetadata(w io.Writer, path string, g *gravgrid.Grid) error {
	m := g.Meta
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "file:\t%s\n", path)
	if m.ModelName != "" {
		fmt.Fprintf(tw, "model:\t%s\n", m.ModelName)
	}
	fmt.Fprintf(tw, "shape:\t%d latitudes x %d longitudes (%d points)\n", m.LatCount, m.LonCount, m.PointCount)
	fmt.Fprintf(tw, "latitude:\t%g to %g\n", g.Lat[0], g.Lat[len(g.Lat)-1])
	fmt.Fprintf(tw, "longitude:\t%g to %g\n", g.Lon[0], g.Lon[len(g.Lon)-1])
	if m.HeightOverEll != nil {
		fmt.Fprintf(tw, "height_over_ell:\t%g %s\n", *m.HeightOverEll, m.HeightOverEllUnits)
	}
	if m.GapValue != nil {
		fmt.Fprintf(tw, "gapvalue:\t%g\n", *m.GapValue)
	}
	fmt.Fprintln(tw, "fields:")
	for _, f := range g.Fields {
		printField(tw, f)
	}
	return tw.Flush()
}

// printDataset writes a description of dataset d to w.
func printDataset(w io.Writer, path string, d *gravgrid.Dataset) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "file:\t%s\n", path)
	if d.Location != "" {
		fmt.Fprintf(tw, "location:\t%s\n", d.Location)
	}
	fmt.Fprintf(tw, "precision:\t%s\n", d.Precision)
	if len(d.Lat) > 0 && len(d.Lon) > 0 {
		fmt.Fprintf(tw, "latitude:\t%d values, %g to %g\n", len(d.Lat), d.Lat[0], d.Lat[len(d.Lat)-1])
		fmt.Fprintf(tw, "longitude:\t%d values, %g to %g\n", len(d.Lon), d.Lon[0], d.Lon[len(d.Lon)-1])
	}
	fmt.Fprintln(tw, "fields:")
	for _, f := range d.Fields {
		printField(tw, f)
	}
	if len(d.Headers) > 0 {
		fmt.Fprintln(tw, "sources:")
		for _, k := range sortedKeys(d.Headers) {
			fmt.Fprintf(tw, "  %s\t%d header lines\n", k, strings.Count(d.Headers[k], "\n")+1)
		}
	}
	if len(d.Attributes) > 0 {
		fmt.Fprintln(tw, "attributes:")
		for _, k := range sortedKeys(d.Attributes) {
			fmt.Fprintf(tw, "  %s\t%s\n", k, d.Attributes[k])
		}
	}
	return tw.Flush()
}

func printField(w io.Writer, f *gravgrid.Field) {
	lo, hi, nan := valueRange(f.Data.Elements)
	fmt.Fprintf(w, "  %s\t[%s]\tmin=%g\tmax=%g", f.Name, f.Units, lo, hi)
	if nan > 0 {
		fmt.Fprintf(w, "\tmissing=%d", nan)
	}
	fmt.Fprintln(w)
}

// valueRange returns the minimum and maximum of the non-NaN values
// in v, and the number of NaNs.
func valueRange(v []float64) (lo, hi float64, nan int) {
	finite := make([]float64, 0, len(v))
	for _, x := range v {
		if math.IsNaN(x) {
			nan++
			continue
		}
		finite = append(finite, x)
	}
	if len(finite) == 0 {
		return math.NaN(), math.NaN(), nan
	}
	return floats.Min(finite), floats.Max(finite), nan
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// openLocal opens path for reading, downloading it first if it is
// a URL or blob.
func openLocal(ctx context.Context, o *opener, path string) (*os.File, func(), error) {
	if !IsURL(path) && !IsBlob(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
	r, err := o.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	tmp, err := os.CreateTemp("", "gravgrid")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, err
	}
	return tmp, cleanup, nil
}

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
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/gravgrid"
	"github.com/spatialmodel/gravgrid/internal/hash"
)

// Manifest records the outcome of a batch run.
type Manifest struct {
	RunID    string    `toml:"run_id"`
	Version  string    `toml:"version"`
	Started  time.Time `toml:"started"`
	Finished time.Time `toml:"finished"`

	// ConfigHash identifies the assembler configuration used for the run.
	ConfigHash string `toml:"config_hash"`

	Succeeded int `toml:"succeeded"`
	Failed    int `toml:"failed"`

	Locations []ManifestEntry `toml:"location"`
}

// ManifestEntry is the outcome for one location.
type ManifestEntry struct {
	Name    string   `toml:"name"`
	Output  string   `toml:"output,omitempty"`
	Fields  []string `toml:"fields,omitempty"`
	Error   string   `toml:"error,omitempty"`
	Seconds float64  `toml:"seconds"`
}

// newManifest summarizes results. Times are kept to the second.
func newManifest(runID string, a *gravgrid.Assembler, started time.Time, results []gravgrid.Result) *Manifest {
	m := &Manifest{
		RunID:   runID,
		Version: gravgrid.Version,
		Started: started.UTC().Truncate(time.Second),
		// Open and Log are functions and interfaces, which don't hash.
		ConfigHash: hash.Hash(struct {
			InputDir, GravityModel, TopographyModel string
			Templates                               gravgrid.Templates
			ReadOptions                             gravgrid.ReadOptions
			AxisTolerance                           float64
		}{a.InputDir, a.GravityModel, a.TopographyModel, a.Templates, a.ReadOptions, a.AxisTolerance}),
		Finished: time.Now().UTC().Truncate(time.Second),
	}
	for _, r := range results {
		e := ManifestEntry{
			Name:    r.Location,
			Output:  r.Output,
			Fields:  r.Fields,
			Seconds: r.Duration.Seconds(),
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
			m.Failed++
		} else {
			m.Succeeded++
		}
		m.Locations = append(m.Locations, e)
	}
	return m
}

// writeManifest writes m as TOML to path, which may be a blob location.
func writeManifest(ctx context.Context, path string, m *Manifest) error {
	return writeTo(ctx, path, func(w *os.File) error {
		if err := toml.NewEncoder(w).Encode(m); err != nil {
			return fmt.Errorf("gravgridutil: writing manifest: %v", err)
		}
		return nil
	})
}

// ReadManifest reads a manifest written by the run command.
func ReadManifest(path string) (*Manifest, error) {
	m := new(Manifest)
	if _, err := toml.DecodeFile(path, m); err != nil {
		return nil, fmt.Errorf("gravgridutil: reading manifest: %v", err)
	}
	return m, nil
}

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
	"sync"
	"time"
)

// Result is the outcome of processing one location.
type Result struct {
	Location string
	// Output is where the dataset was written, if it was.
	Output string
	// Fields are the names of the fields in the output.
	Fields   []string
	Err      error
	Duration time.Duration
}

// OK returns whether the location was processed successfully.
func (r Result) OK() bool { return r.Err == nil }

// Task processes the location r.Location, filling in the
// other fields of r that it can. An error returned by the task
// is stored in r.Err.
type Task func(ctx context.Context, r *Result) error

// RunBatch runs task once for each location and returns the results
// in the same order as locations. A failing location does not
// stop the others. At most workers tasks run at once; workers < 1
// runs the tasks one at a time. Once ctx is done, tasks that have not
// started are not run and their results hold the context error.
func RunBatch(ctx context.Context, locations []string, workers int, task Task) []Result {
	results := make([]Result, len(locations))
	for i, loc := range locations {
		results[i].Location = loc
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(locations) {
		workers = len(locations)
	}

	indices := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				r := &results[i]
				if err := ctx.Err(); err != nil {
					r.Err = err
					continue
				}
				start := time.Now()
				r.Err = task(ctx, r)
				r.Duration = time.Since(start)
			}
		}()
	}
	for i := range locations {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return results
}

// Failed returns the results that hold an error.
func Failed(results []Result) []Result {
	var o []Result
	for _, r := range results {
		if r.Err != nil {
			o = append(o, r)
		}
	}
	return o
}

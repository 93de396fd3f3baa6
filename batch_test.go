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
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestRunBatch(t *testing.T) {
	locations := []string{"a", "b", "fail", "c", "d", "e"}
	for _, workers := range []int{0, 1, 3, 10} {
		t.Run(fmt.Sprint(workers), func(t *testing.T) {
			var running, maxRunning int32
			results := RunBatch(context.Background(), locations, workers, func(ctx context.Context, r *Result) error {
				n := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				if r.Location == "fail" {
					return errors.New("bad location")
				}
				r.Output = r.Location + ".nc"
				return nil
			})
			if len(results) != len(locations) {
				t.Fatalf("have %d results, want %d", len(results), len(locations))
			}
			for i, r := range results {
				if r.Location != locations[i] {
					t.Errorf("result %d: location %s, want %s", i, r.Location, locations[i])
				}
				if r.Location == "fail" {
					if r.OK() || r.Output != "" {
						t.Errorf("failing location: %+v", r)
					}
					continue
				}
				if !r.OK() || r.Output != r.Location+".nc" {
					t.Errorf("location %s: %+v", r.Location, r)
				}
			}
			limit := int32(workers)
			if limit < 1 {
				limit = 1
			}
			if maxRunning > limit {
				t.Errorf("%d tasks ran at once with %d workers", maxRunning, workers)
			}
			failed := Failed(results)
			if len(failed) != 1 || failed[0].Location != "fail" {
				t.Errorf("failed: %+v", failed)
			}
		})
	}
}

func TestRunBatch_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran []string
	results := RunBatch(ctx, []string{"a", "b", "c"}, 1, func(ctx context.Context, r *Result) error {
		ran = append(ran, r.Location)
		if r.Location == "a" {
			cancel()
		}
		return nil
	})
	if len(ran) != 1 || ran[0] != "a" {
		t.Errorf("ran %v, want [a]", ran)
	}
	if !results[0].OK() {
		t.Errorf("a: %v", results[0].Err)
	}
	for _, r := range results[1:] {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: have error %v, want %v", r.Location, r.Err, context.Canceled)
		}
	}
}

func TestRunBatch_empty(t *testing.T) {
	results := RunBatch(context.Background(), nil, 4, func(context.Context, *Result) error {
		t.Error("task should not run")
		return nil
	})
	if len(results) != 0 {
		t.Errorf("results: %v", results)
	}
}

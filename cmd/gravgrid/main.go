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

// Command gravgrid converts ICGEM gravity field grids to netCDF.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/gravgrid/gravgridutil"
)

func main() {
	cfg := gravgridutil.InitializeConfig()
	if err := cfg.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

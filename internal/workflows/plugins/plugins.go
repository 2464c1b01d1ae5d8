// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plugins registers the built-in workflow execute functions.
// Importing this package for side effects makes them available to the
// registry.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/transformd/internal/workflows"
)

func init() {
	workflows.RegisterExecute("sen2cor_l1c_l2a", runSen2Cor)
	workflows.RegisterExecute("eopf_to_zarr", runEOPFToZarr)
}

// soleEntry returns the single directory entry produced by a plugin under
// dir. Plugins are expected to leave exactly one output product behind.
func soleEntry(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 {
		return "", fmt.Errorf("expected exactly one output product in %s, found %d", dir, len(entries))
	}
	return filepath.Join(dir, entries[0].Name()), nil
}

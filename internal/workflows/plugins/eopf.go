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

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tombee/transformd/internal/workflows"
)

func eopfBinary() string {
	if path := os.Getenv("EOPF_CONVERT_PATH"); path != "" {
		return path
	}
	return "eopf-convert"
}

// runEOPFToZarr converts a Sentinel product to the Zarr store layout via the
// external EOPF conversion CLI.
func runEOPFToZarr(ctx context.Context, req workflows.ExecuteRequest) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(req.ProductPath), ".SAFE")
	target := filepath.Join(req.OutputDir, stem+".zarr")

	cmd := exec.CommandContext(ctx, eopfBinary(), req.ProductPath, target)
	cmd.Dir = req.ProcessingDir

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		slog.Debug("eopf output", "order_id", req.OrderID, "output", string(output))
	}
	if err != nil {
		return "", fmt.Errorf("eopf conversion failed: %w", err)
	}
	return target, nil
}

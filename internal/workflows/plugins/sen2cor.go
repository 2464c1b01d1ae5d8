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

	"github.com/tombee/transformd/internal/workflows"
)

// sen2corBinary locates the Sen2Cor entry point. SEN2COR_PATH overrides the
// PATH lookup.
func sen2corBinary() string {
	if path := os.Getenv("SEN2COR_PATH"); path != "" {
		return path
	}
	return "L2A_Process"
}

// runSen2Cor performs Sentinel-2 L1C to L2A atmospheric correction by
// invoking the external Sen2Cor processor on the unpacked product.
func runSen2Cor(ctx context.Context, req workflows.ExecuteRequest) (string, error) {
	args := []string{"--output_dir", req.OutputDir}
	if resolution, ok := req.Options["Resolution"]; ok {
		args = append(args, "--resolution", fmt.Sprint(resolution))
	}
	args = append(args, req.ProductPath)

	cmd := exec.CommandContext(ctx, sen2corBinary(), args...)
	cmd.Dir = req.ProcessingDir

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		slog.Debug("sen2cor output", "order_id", req.OrderID, "output", string(output))
	}
	if err != nil {
		return "", fmt.Errorf("sen2cor processing failed: %w", err)
	}
	return soleEntry(req.OutputDir)
}

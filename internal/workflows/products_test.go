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

package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/transformd/pkg/errors"
)

func TestCheckProductConsistency(t *testing.T) {
	tests := []struct {
		name        string
		productType string
		reference   string
		wantErr     bool
	}{
		{
			name:        "sentinel-2 L1C",
			productType: "S2MSI1C",
			reference:   "S2A_MSIL1C_20211117T103251_N0301_R108_T31TEJ_20211117T124214.zip",
		},
		{
			name:        "sentinel-2 L2A",
			productType: "S2MSI2A",
			reference:   "S2B_MSIL2A_20211117T103251_N0301_R108_T31TEJ_20211117T124214.zip",
		},
		{
			name:        "level mismatch",
			productType: "S2MSI1C",
			reference:   "S2B_MSIL2A_20211117T103251_N0301_R108_T31TEJ_20211117T124214.zip",
			wantErr:     true,
		},
		{
			name:        "sentinel-1 GRDH",
			productType: "IW_GRDH_1S",
			reference:   "S1B_IW_GRDH_1SDV_20211125T052759_20211125T052824_029741_038CB1_1A18",
		},
		{
			name:        "sentinel-1 wrong mission prefix",
			productType: "IW_GRDH_1S",
			reference:   "S2A_IW_GRDH_1SDV_20211125T052759_20211125T052824_029741_038CB1_1A18",
			wantErr:     true,
		},
		{
			name:        "sentinel-3 OLCI",
			productType: "OL_1_EFR___",
			reference:   "S3A_OL_1_EFR____20211126T093855_20211126T094155_20211126T114155_0179_079_136_2160_LN1_O_NR_002",
		},
		{
			name:        "sentinel-5p offline",
			productType: "L2__NO2___",
			reference:   "S5P_OFFL_L2__NO2____20211126T092040_20211126T110210_21315_02_020301_20211128T022343",
		},
		{
			name:        "sentinel-5p bad timeliness",
			productType: "L2__NO2___",
			reference:   "S5P_TEST_L2__NO2____20211126T092040_20211126T110210_21315_02_020301_20211128T022343",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckProductConsistency(tt.productType, tt.reference, "wf")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckProductConsistencyUnknownType(t *testing.T) {
	err := CheckProductConsistency("NOT_A_TYPE", "S2A_MSIL1C_x.zip", "wf")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "NOT_A_TYPE")
}

func TestValidProductType(t *testing.T) {
	assert.True(t, ValidProductType("S2MSI1C"))
	assert.True(t, ValidProductType("IW_SLC__1S"))
	assert.True(t, ValidProductType("SY_2_AOD___"))
	assert.True(t, ValidProductType("AUX_CTMANA"))
	assert.False(t, ValidProductType("S2MSI3B"))
}

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
	"fmt"
	"regexp"

	"github.com/tombee/transformd/pkg/errors"
)

// Option value types recognized by descriptor validation.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

var optionTypes = map[string]bool{
	TypeString:  true,
	TypeInteger: true,
	TypeNumber:  true,
	TypeBoolean: true,
}

// Sentinel-1 product type codes.
var sentinel1 = []string{
	"S1_RAW__0S", "S2_RAW__0S", "S3_RAW__0S", "S4_RAW__0S", "S5_RAW__0S",
	"S6_RAW__0S", "IW_RAW__0S", "EW_RAW__0S", "WV_RAW__0S",
	"S1_SLC__1S", "S2_SLC__1S", "S3_SLC__1S", "S4_SLC__1S", "S5_SLC__1S",
	"S6_SLC__1S", "IW_SLC__1S", "EW_SLC__1S", "WV_SLC__1S",
	"S1_GRDH_1S", "S2_GRDH_1S", "S3_GRDH_1S", "S4_GRDH_1S", "S5_GRDH_1S",
	"S6_GRDH_1S", "IW_GRDH_1S", "EW_GRDH_1S",
	"S1_GRDM_1S", "S2_GRDM_1S", "S3_GRDM_1S", "S4_GRDM_1S", "S5_GRDM_1S",
	"S6_GRDM_1S", "IW_GRDM_1S", "EW_GRDM_1S",
	"S1_OCN__2S", "S2_OCN__2S", "S3_OCN__2S", "S4_OCN__2S", "S5_OCN__2S",
	"S6_OCN__2S", "IW_OCN__2S", "EW_OCN__2S", "WV_OCN__2S",
}

// Sentinel-2 product type codes.
var sentinel2 = []string{"S2MSI1C", "S2MSI2A"}

// Sentinel-3 product type codes.
var sentinel3 = []string{
	"OL_1_EFR___", "OL_1_ERR___", "SL_1_RBT___",
	"SR_1_SRA___", "SR_1_SRA_A_", "SR_1_SRA_BS",
	"OL_2_LFR___", "OL_2_LRR___", "SL_2_LST___", "SL_2_FRP___",
	"SY_2_SYN___", "SY_2_AOD___", "SY_2_VGP___", "SY_2_VGK___",
	"SY_2_VG1___", "SY_2_V10___", "SR_2_LAN___",
}

// Sentinel-5P product type codes.
var sentinel5p = []string{
	"L1B_RA_BD1", "L1B_RA_BD2", "L1B_RA_BD3", "L1B_RA_BD4",
	"L1B_RA_BD5", "L1B_RA_BD6", "L1B_RA_BD7", "L1B_RA_BD8",
	"L1B_IR_UVN", "L1B_IR_SIR",
	"L2__O3____", "L2__O3_TCL", "L2__O3__PR", "L2__O3_TPR",
	"L2__NO2___", "L2__SO2___", "L2__CO____", "L2__CH4___",
	"L2__HCHO__", "L2__CLOUD_", "L2__AER_AI", "L2__AER_LH",
	"L2__FRESCO", "L2__NP_BD3", "L2__NP_BD6", "L2__NP_BD7",
	"AUX_CTMFCT", "AUX_CTMANA",
}

// productPatterns maps every recognized product type code to the naming
// convention its input products must follow.
var productPatterns = buildProductPatterns()

func buildProductPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, code := range sentinel1 {
		patterns[code] = regexp.MustCompile("^S1[AB_]_" + regexp.QuoteMeta(code))
	}
	for _, code := range sentinel2 {
		// S2MSI1C → S2A_MSIL1C..., S2MSI2A → S2B_MSIL2A...
		level := code[len("S2MSI"):]
		patterns[code] = regexp.MustCompile("^S2[AB_]_MSIL" + regexp.QuoteMeta(level))
	}
	for _, code := range sentinel3 {
		patterns[code] = regexp.MustCompile("^S3[AB_]_" + regexp.QuoteMeta(code))
	}
	for _, code := range sentinel5p {
		patterns[code] = regexp.MustCompile("^S5P_(OFFL|OPER|NRTI)_" + regexp.QuoteMeta(code))
	}
	return patterns
}

// ValidProductType reports whether productType belongs to the recognized
// mission code set.
func ValidProductType(productType string) bool {
	_, ok := productPatterns[productType]
	return ok
}

// CheckProductConsistency verifies that the input product reference name
// complies with the naming convention of the workflow's input product type.
func CheckProductConsistency(productType, reference, workflowID string) error {
	pattern, ok := productPatterns[productType]
	if !ok {
		return &errors.ValidationError{
			Field:   "InputProductType",
			Message: fmt.Sprintf("product type %q not recognized, error in plugin %q", productType, workflowID),
		}
	}
	if !pattern.MatchString(reference) {
		return &errors.ValidationError{
			Field: "InputProductReference",
			Message: fmt.Sprintf("input product name %q does not comply to the naming convention "+
				"for the %q product type required by %q", reference, productType, workflowID),
		}
	}
	return nil
}

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

	"github.com/tombee/transformd/pkg/errors"
)

// Validate checks a descriptor against the registration rules. The check
// order is fixed: mandatory fields, product type, option descriptions and
// types, default conformance, enum conformance. The first failure wins.
func Validate(d *Descriptor) error {
	if err := checkMandatoryFields(d); err != nil {
		return err
	}
	if !ValidProductType(d.InputProductType) {
		return &errors.ValidationError{
			Field: "InputProductType",
			Message: fmt.Sprintf("workflow %q: product type %q not recognized",
				d.Id, d.InputProductType),
		}
	}
	if err := checkOptionKeys(d); err != nil {
		return err
	}
	if err := checkOptionTypes(d); err != nil {
		return err
	}
	if err := checkDefaults(d); err != nil {
		return err
	}
	return checkEnums(d)
}

func checkMandatoryFields(d *Descriptor) error {
	missing := func(field string) error {
		return &errors.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("workflow %q: missing key %s in workflow description", d.Id, field),
		}
	}
	switch {
	case d.Id == "":
		return missing("Id")
	case d.WorkflowName == "":
		return missing("WorkflowName")
	case d.Description == "":
		return missing("Description")
	case d.Execute == "":
		return missing("Execute")
	case d.InputProductType == "":
		return missing("InputProductType")
	case d.OutputProductType == "":
		return missing("OutputProductType")
	case d.WorkflowVersion == "":
		return missing("WorkflowVersion")
	case d.WorkflowOptions == nil:
		return missing("WorkflowOptions")
	}
	return nil
}

func checkOptionKeys(d *Descriptor) error {
	for name, opt := range d.WorkflowOptions {
		if opt.Description == "" {
			return &errors.ValidationError{
				Field:   "WorkflowOptions",
				Message: fmt.Sprintf("workflow %q: missing key Description in option %q", d.Id, name),
			}
		}
		if opt.Type == "" {
			return &errors.ValidationError{
				Field:   "WorkflowOptions",
				Message: fmt.Sprintf("workflow %q: missing key Type in option %q", d.Id, name),
			}
		}
	}
	return nil
}

func checkOptionTypes(d *Descriptor) error {
	for name, opt := range d.WorkflowOptions {
		if !optionTypes[opt.Type] {
			return &errors.ValidationError{
				Field: "WorkflowOptions",
				Message: fmt.Sprintf("workflow %q: type %q of option %q not recognized",
					d.Id, opt.Type, name),
			}
		}
	}
	return nil
}

func checkDefaults(d *Descriptor) error {
	for name, opt := range d.WorkflowOptions {
		if !opt.HasDefault() {
			continue
		}
		if _, ok := coerce(opt.Default, opt.Type); !ok {
			return &errors.ValidationError{
				Field: "WorkflowOptions",
				Message: fmt.Sprintf("workflow %q: option %q default %v does not match declared type %s",
					d.Id, name, opt.Default, opt.Type),
			}
		}
	}
	return nil
}

func checkEnums(d *Descriptor) error {
	for name, opt := range d.WorkflowOptions {
		for _, member := range opt.Enum {
			if _, ok := coerce(member, opt.Type); !ok {
				return &errors.ValidationError{
					Field: "WorkflowOptions",
					Message: fmt.Sprintf("workflow %q: option %q enum value %v does not match declared type %s",
						d.Id, name, member, opt.Type),
				}
			}
		}
	}
	return nil
}

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

package api

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tombee/transformd/internal/orders"
	"github.com/tombee/transformd/pkg/errors"
)

// ParseFilter parses an OData $filter expression into filter predicates.
// The supported grammar is a conjunction of comparisons:
//
//	Field op literal [and Field op literal]...
//
// where the literal is either single-quoted (Status eq 'completed') or a
// bare token (SubmissionDate gt 2022-01-01T00:00:00). Field and operator
// validity is checked later by the queue, together with date literals.
func ParseFilter(input string) ([]orders.Filter, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	p := &filterParser{input: input}
	var filters []orders.Filter
	for {
		field, err := p.word("field name")
		if err != nil {
			return nil, err
		}
		op, err := p.word("operator")
		if err != nil {
			return nil, err
		}
		value, err := p.literal()
		if err != nil {
			return nil, err
		}
		filters = append(filters, orders.Filter{Field: field, Op: op, Value: value})

		p.skipSpaces()
		if p.done() {
			return filters, nil
		}
		conj, err := p.word("conjunction")
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(conj, "and") {
			return nil, filterError(fmt.Sprintf("expected 'and', got %q", conj))
		}
	}
}

// parseODataKey splits an OData key path segment such as
// "TransformationOrders('abc')" into the entity set name and the key. The
// key is empty when the segment carries no key.
func parseODataKey(segment string) (name, key string, ok bool) {
	open := strings.Index(segment, "('")
	if open < 0 {
		return segment, "", true
	}
	if !strings.HasSuffix(segment, "')") {
		return "", "", false
	}
	name = segment[:open]
	key = segment[open+2 : len(segment)-2]
	if name == "" || strings.Contains(key, "'") {
		return "", "", false
	}
	return name, key, true
}

type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) done() bool {
	return p.pos >= len(p.input)
}

func (p *filterParser) skipSpaces() {
	for !p.done() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// word reads an unquoted token delimited by whitespace.
func (p *filterParser) word(what string) (string, error) {
	p.skipSpaces()
	start := p.pos
	for !p.done() && !unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		return "", filterError("unexpected end of expression, expected " + what)
	}
	return p.input[start:p.pos], nil
}

// literal reads either a single-quoted string, with '' as the escape for an
// embedded quote, or a bare token.
func (p *filterParser) literal() (string, error) {
	p.skipSpaces()
	if p.done() {
		return "", filterError("unexpected end of expression, expected a literal")
	}
	if p.input[p.pos] != '\'' {
		return p.word("literal")
	}

	p.pos++
	var b strings.Builder
	for {
		if p.done() {
			return "", filterError("unterminated string literal")
		}
		c := p.input[p.pos]
		if c == '\'' {
			if p.pos+1 < len(p.input) && p.input[p.pos+1] == '\'' {
				b.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
}

func filterError(message string) error {
	return &errors.ValidationError{
		Field:      "$filter",
		Message:    message,
		Suggestion: "use conjunctions of the form: Field op 'literal' and ...",
	}
}

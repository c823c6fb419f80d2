// Package validation checks request payloads against route-declared field
// rules or a JSON schema before the handler runs.
package validation

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Rules maps field paths (gjson syntax for JSON bodies) to a pipe-separated
// rule string, e.g. "required|int|min:1".
type Rules map[string]string

type rule struct {
	name string
	arg  string
}

func parseRules(spec string) ([]rule, error) {
	parts := strings.Split(spec, "|")
	out := make([]rule, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, arg, _ := strings.Cut(p, ":")
		switch name {
		case "required", "int", "numeric", "bool", "email", "uuid", "string":
		case "min", "max":
			if _, err := strconv.ParseFloat(arg, 64); err != nil {
				return nil, fmt.Errorf("validation: rule %q needs a numeric argument", p)
			}
		case "in":
			if arg == "" {
				return nil, fmt.Errorf("validation: rule %q needs options", p)
			}
		default:
			return nil, fmt.Errorf("validation: unknown rule %q", name)
		}
		out = append(out, rule{name: name, arg: arg})
	}
	return out, nil
}

// fieldValue is the extracted value for one field. JSON bodies keep their
// types; form values arrive as strings.
type fieldValue struct {
	present bool
	raw     gjson.Result
	str     string
	isForm  bool
}

func (v fieldValue) asString() string {
	if v.isForm {
		return v.str
	}
	return v.raw.String()
}

// check applies one rule, returning a message on failure.
func (r rule) check(field string, v fieldValue) string {
	if !v.present {
		if r.name == "required" {
			return fmt.Sprintf("The %s field is required.", field)
		}
		return ""
	}

	s := v.asString()
	switch r.name {
	case "required":
		if s == "" {
			return fmt.Sprintf("The %s field is required.", field)
		}
	case "string":
		if !v.isForm && v.raw.Type != gjson.String {
			return fmt.Sprintf("The %s field must be a string.", field)
		}
	case "int":
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return fmt.Sprintf("The %s field must be an integer.", field)
		}
	case "numeric":
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Sprintf("The %s field must be numeric.", field)
		}
	case "bool":
		if !v.isForm {
			if v.raw.Type != gjson.True && v.raw.Type != gjson.False {
				return fmt.Sprintf("The %s field must be a boolean.", field)
			}
		} else if _, err := strconv.ParseBool(s); err != nil {
			return fmt.Sprintf("The %s field must be a boolean.", field)
		}
	case "email":
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Sprintf("The %s field must be a valid email address.", field)
		}
	case "uuid":
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Sprintf("The %s field must be a valid UUID.", field)
		}
	case "min":
		limit, _ := strconv.ParseFloat(r.arg, 64)
		if n, err := strconv.ParseFloat(s, 64); err == nil && !v.numericIsText() {
			if n < limit {
				return fmt.Sprintf("The %s field must be at least %s.", field, r.arg)
			}
		} else if float64(len(s)) < limit {
			return fmt.Sprintf("The %s field must be at least %s characters.", field, r.arg)
		}
	case "max":
		limit, _ := strconv.ParseFloat(r.arg, 64)
		if n, err := strconv.ParseFloat(s, 64); err == nil && !v.numericIsText() {
			if n > limit {
				return fmt.Sprintf("The %s field may not be greater than %s.", field, r.arg)
			}
		} else if float64(len(s)) > limit {
			return fmt.Sprintf("The %s field may not be greater than %s characters.", field, r.arg)
		}
	case "in":
		for _, opt := range strings.Split(r.arg, ",") {
			if s == opt {
				return ""
			}
		}
		return fmt.Sprintf("The selected %s is invalid.", field)
	}
	return ""
}

// numericIsText reports whether a numeric-looking value should be treated
// as text (JSON strings compare by length, JSON numbers by value).
func (v fieldValue) numericIsText() bool {
	return !v.isForm && v.raw.Type == gjson.String
}

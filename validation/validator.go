package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/routed/routed/router"
)

const maxBodyBytes = 1 << 20

// Validator checks request payloads. Exactly one of the rule table or the
// schema is active.
type Validator struct {
	fields map[string][]rule
	order  []string
	schema *jsonschema.Schema
}

// New compiles a field-rule validator. Malformed rule strings fail here,
// at registration time.
func New(rules Rules) (*Validator, error) {
	v := &Validator{fields: make(map[string][]rule, len(rules))}
	for field, spec := range rules {
		compiled, err := parseRules(spec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		v.fields[field] = compiled
		v.order = append(v.order, field)
	}
	sort.Strings(v.order)
	return v, nil
}

// NewSchema compiles a JSON-schema validator.
func NewSchema(schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("validation: parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.json", doc); err != nil {
		return nil, fmt.Errorf("validation: add schema: %w", err)
	}
	schema, err := compiler.Compile("request.json")
	if err != nil {
		return nil, fmt.Errorf("validation: compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Middleware validates the request and aborts with 422 on failure. The body
// is rewound so handlers can still read it.
func (v *Validator) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		failures, err := v.validateRequest(c)
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		if len(failures) > 0 {
			c.JSON(http.StatusUnprocessableEntity, map[string]any{"errors": failures})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (v *Validator) validateRequest(c *router.Context) (map[string][]string, error) {
	isJSON := strings.Contains(c.ContentType(), "json")

	var body []byte
	if isJSON && c.Request.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("validation: read body: %w", err)
		}
		c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		body = raw
	}

	if v.schema != nil {
		return v.validateSchema(body, isJSON)
	}
	return v.validateFields(c, body, isJSON), nil
}

func (v *Validator) validateFields(c *router.Context, body []byte, isJSON bool) map[string][]string {
	failures := make(map[string][]string)
	for _, field := range v.order {
		var fv fieldValue
		if isJSON {
			res := gjson.GetBytes(body, field)
			fv = fieldValue{present: res.Exists(), raw: res}
		} else {
			val := c.FormValue(field)
			present := val != ""
			if !present && c.Request.Form != nil {
				_, present = c.Request.Form[field]
			}
			fv = fieldValue{present: present, str: val, isForm: true}
		}
		for _, r := range v.fields[field] {
			if msg := r.check(field, fv); msg != "" {
				failures[field] = append(failures[field], msg)
			}
		}
	}
	return failures
}

func (v *Validator) validateSchema(body []byte, isJSON bool) (map[string][]string, error) {
	if !isJSON {
		return map[string][]string{"body": {"The request body must be JSON."}}, nil
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return map[string][]string{"body": {"The request body is not valid JSON."}}, nil
	}
	err := v.schema.Validate(value)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, err
	}

	failures := make(map[string][]string)
	collectSchemaErrors(ve, failures)
	return failures, nil
}

// collectSchemaErrors flattens the schema error tree into per-field
// messages keyed by instance path.
func collectSchemaErrors(ve *jsonschema.ValidationError, out map[string][]string) {
	if len(ve.Causes) == 0 {
		field := strings.Join(ve.InstanceLocation, ".")
		if field == "" {
			field = "body"
		}
		out[field] = append(out[field], ve.Error())
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(cause, out)
	}
}

package validation

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/routed/routed/router"
)

func runValidator(t *testing.T, v *Validator, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/x", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)

	handlers := []router.HandlerFunc{
		v.Middleware(),
		func(c *router.Context) { c.Status(200) },
	}
	router.NewContext(rec, req, nil, nil, handlers).Next()
	return rec
}

func TestFieldRulesPass(t *testing.T) {
	v, err := New(Rules{
		"name":  "required|string|min:2",
		"age":   "required|int|min:0|max:150",
		"email": "required|email",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := runValidator(t, v, "application/json",
		`{"name":"ada","age":36,"email":"ada@example.com"}`)
	if rec.Code != 200 {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestFieldRulesFailWith422(t *testing.T) {
	v, err := New(Rules{
		"name": "required",
		"age":  "required|int",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := runValidator(t, v, "application/json", `{"age":"not-a-number"}`)
	if rec.Code != 422 {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Errors["name"]) == 0 {
		t.Error("missing required failure for name")
	}
	if len(payload.Errors["age"]) == 0 {
		t.Error("missing int failure for age")
	}
}

func TestNestedFieldExtraction(t *testing.T) {
	v, _ := New(Rules{"user.address.city": "required"})

	rec := runValidator(t, v, "application/json",
		`{"user":{"address":{"city":"Berlin"}}}`)
	if rec.Code != 200 {
		t.Errorf("nested present: status = %d", rec.Code)
	}

	rec = runValidator(t, v, "application/json", `{"user":{}}`)
	if rec.Code != 422 {
		t.Errorf("nested absent: status = %d", rec.Code)
	}
}

func TestFormFallback(t *testing.T) {
	v, _ := New(Rules{"name": "required", "count": "int"})

	form := url.Values{"name": {"ada"}, "count": {"3"}}
	rec := runValidator(t, v, "application/x-www-form-urlencoded", form.Encode())
	if rec.Code != 200 {
		t.Errorf("valid form: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	form = url.Values{"count": {"x"}}
	rec = runValidator(t, v, "application/x-www-form-urlencoded", form.Encode())
	if rec.Code != 422 {
		t.Errorf("invalid form: status = %d", rec.Code)
	}
}

func TestInRule(t *testing.T) {
	v, _ := New(Rules{"color": "required|in:red,green,blue"})

	rec := runValidator(t, v, "application/json", `{"color":"green"}`)
	if rec.Code != 200 {
		t.Errorf("valid option: status = %d", rec.Code)
	}
	rec = runValidator(t, v, "application/json", `{"color":"mauve"}`)
	if rec.Code != 422 {
		t.Errorf("invalid option: status = %d", rec.Code)
	}
}

func TestUnknownRuleRejectedAtBuild(t *testing.T) {
	if _, err := New(Rules{"f": "required|telepathic"}); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestBodyRemainsReadable(t *testing.T) {
	v, _ := New(Rules{"name": "required"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/x", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Content-Type", "application/json")

	var decoded struct {
		Name string `json:"name"`
	}
	handlers := []router.HandlerFunc{
		v.Middleware(),
		func(c *router.Context) {
			if err := c.BindJSON(&decoded); err != nil {
				t.Errorf("bind after validation: %v", err)
			}
			c.Status(200)
		},
	}
	router.NewContext(rec, req, nil, nil, handlers).Next()

	if decoded.Name != "ada" {
		t.Errorf("name = %q", decoded.Name)
	}
}

func TestSchemaValidation(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 0}
		}
	}`
	v, err := NewSchema([]byte(schema))
	if err != nil {
		t.Fatal(err)
	}

	rec := runValidator(t, v, "application/json", `{"name":"ada","age":36}`)
	if rec.Code != 200 {
		t.Errorf("valid: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = runValidator(t, v, "application/json", `{"age":-1}`)
	if rec.Code != 422 {
		t.Fatalf("invalid: status = %d", rec.Code)
	}
	var payload struct {
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Errors) == 0 {
		t.Error("no field errors reported")
	}
}

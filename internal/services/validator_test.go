package services

import (
	"errors"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestNewValidator_LoadsAllSchemas(t *testing.T) {
	v := newTestValidator(t)
	for _, name := range []string{SchemaCreemEvent, SchemaGenerationRequest, SchemaGenerationResult} {
		if _, ok := v.schemas[name]; !ok {
			t.Errorf("schema %q not loaded", name)
		}
	}
}

func TestValidate_CreemEvent(t *testing.T) {
	v := newTestValidator(t)

	valid := `{"id":"evt_1","eventType":"subscription.active","object":{"id":"sub_1","product":{"id":"prod_x"},"metadata":{"user_id":"u1"}}}`
	if err := v.Validate(SchemaCreemEvent, []byte(valid)); err != nil {
		t.Fatalf("expected valid event, got: %v", err)
	}

	cases := []struct {
		name  string
		input string
	}{
		{"missing eventType", `{"id":"evt_1","object":{}}`},
		{"empty eventType", `{"eventType":"","object":{}}`},
		{"object not an object", `{"eventType":"checkout.completed","object":"nope"}`},
		{"not JSON", `{"eventType":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(SchemaCreemEvent, []byte(tc.input))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_GenerationRequest(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(SchemaGenerationRequest, []byte(`{"input_image_url":"https://cdn.example.com/me.jpg","style":"skin_fade"}`)); err != nil {
		t.Fatalf("expected valid request, got: %v", err)
	}

	cases := []struct {
		name  string
		input string
	}{
		{"missing image", `{"style":"classic"}`},
		{"not a URL", `{"input_image_url":"file:///etc/passwd"}`},
		{"unknown style", `{"input_image_url":"https://x.test/a.png","style":"mohawk"}`},
		{"unknown field", `{"input_image_url":"https://x.test/a.png","credits":999}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Validate(SchemaGenerationRequest, []byte(tc.input)); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("nope", []byte(`{}`))
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("unknown schema should be a plain error, got: %v", err)
	}
}

package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	SessionID string   `json:"sessionId" validate:"required"`
	Kind      string   `json:"type" validate:"oneof=rectangle circle"`
	Size      float64  `json:"size" validate:"gt=0"`
	X1        *float64 `json:"x1" validate:"required_unless=Kind circle"`
}

func TestValidateStructSuccess(t *testing.T) {
	x := 1.0
	payload := testPayload{SessionID: "s1", Kind: "rectangle", Size: 2, X1: &x}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailuresUseJSONNames(t *testing.T) {
	payload := testPayload{Kind: "hexagon", Size: 0}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 4 {
		t.Fatalf("expected 4 validation errors, got %d: %v", len(vErrs), vErrs)
	}

	fields := map[string]bool{}
	for _, v := range vErrs {
		fields[v.Field] = true
	}
	for _, name := range []string{"sessionId", "type", "size", "x1"} {
		if !fields[name] {
			t.Fatalf("expected %s in validation errors, got %v", name, vErrs)
		}
	}
}

func TestConditionalRequirementSkipped(t *testing.T) {
	payload := testPayload{SessionID: "s1", Kind: "circle", Size: 1}
	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected nil geometry to be accepted for circle, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("inkroom", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "inkroom"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"inkroom"`
	}

	if err := ValidateStruct(custom{Value: "inkroom"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

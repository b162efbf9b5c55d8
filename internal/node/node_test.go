package node

import "testing"

func TestResolveAppliesDefault(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "speed", Kind: Float, Optional: true, Default: "1.5"},
	}
	resolved, err := Resolve(specs, map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Value != "1.5" {
		t.Fatalf("expected speed=1.5, got %+v", resolved)
	}
}

func TestResolveRejectsTypeMismatch(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "speed", Kind: Float, Optional: true, Default: "1.5"},
	}
	_, err := Resolve(specs, map[string]string{"speed": "fast"})
	if err == nil {
		t.Fatal("expected type mismatch to fail")
	}
}

func TestResolveRejectsUnknownParameter(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "speed", Kind: Float, Optional: true, Default: "1.5"},
	}
	_, err := Resolve(specs, map[string]string{"turbo": "true"})
	if err == nil {
		t.Fatal("expected unknown parameter to fail")
	}
}

func TestResolveRequiresMissingRequiredParameter(t *testing.T) {
	specs := []ParameterSpec{
		{Name: "topic", Kind: Str, Optional: false},
	}
	_, err := Resolve(specs, map[string]string{})
	if err == nil {
		t.Fatal("expected missing required parameter to fail")
	}
}

func TestValidateSpecRejectsBadDefault(t *testing.T) {
	spec := ParameterSpec{Name: "speed", Kind: Int, Optional: true, Default: "fast"}
	if err := ValidateSpec(spec); err == nil {
		t.Fatal("expected bad default to fail validation")
	}
}

package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsAs(t *testing.T) {
	base := errors.New("timeout")
	err := fmt.Errorf("export: %w", External("syrve", base))

	var ext *ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("expected ExternalServiceError in chain")
	}
	if ext.Service != "syrve" || !errors.Is(err, base) {
		t.Fatalf("unexpected unwrap: %+v", ext)
	}
	if External("ocr", nil) != nil {
		t.Fatalf("External(nil) must be nil")
	}
}

func TestUnresolved(t *testing.T) {
	err := Unresolved([]int{2, 5})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError")
	}
	if len(ve.Positions) != 2 || ve.Positions[0] != 2 || ve.Positions[1] != 5 {
		t.Fatalf("positions = %v", ve.Positions)
	}
	if ve.Error() != "positions: unresolved positions [2 5]" {
		t.Fatalf("message = %q", ve.Error())
	}
}

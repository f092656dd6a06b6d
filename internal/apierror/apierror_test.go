package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"not allowed is 401", NotAllowed, http.StatusUnauthorized},
		{"not found is 404", NotFound, http.StatusNotFound},
		{"value error is 500", ValueError, http.StatusInternalServerError},
		{"too expensive is 500", TooExpensive, http.StatusInternalServerError},
		{"out of scope is 500", OutOfScope, http.StatusInternalServerError},
		{"other is 500", Other, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(New(tt.kind)); got != tt.want {
				t.Errorf("Status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStatusUnclassified(t *testing.T) {
	if got := Status(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", got)
	}
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(NotFound))
	if got := KindOf(err); got != NotFound {
		t.Errorf("KindOf = %v, want NotFound", got)
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Wrap(MustBeUnique, errors.New("dup key")))
	if !errors.Is(err, New(MustBeUnique)) {
		t.Error("errors.Is should match same-kind errors")
	}
	if errors.Is(err, New(NotFound)) {
		t.Error("errors.Is should not match different kinds")
	}
}

func TestMessageHidesCause(t *testing.T) {
	var ae *Error
	if !errors.As(Wrap(Other, errors.New("pq: secret detail")), &ae) {
		t.Fatal("expected *Error")
	}
	if ae.Message() != kindMessages[Other] {
		t.Errorf("Message = %q", ae.Message())
	}
}

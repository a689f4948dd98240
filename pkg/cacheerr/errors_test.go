package cacheerr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindParse, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindIO, http.StatusInternalServerError},
		{KindUpstream, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := New(KindBadRequest, "missing keystamp")
	b := New(KindBadRequest, "missing xres")
	if !errors.Is(a, b) {
		t.Error("expected errors with same Kind to match via errors.Is")
	}
	c := New(KindNotFound, "missing keystamp")
	if errors.Is(a, c) {
		t.Error("expected errors with different Kind not to match")
	}
}

func TestHTTPStatusHelperOnPlainError(t *testing.T) {
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain error) = %d, want 500", got)
	}
}

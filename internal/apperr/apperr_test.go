package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_WrappedAndForeign(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", Forbidden())
	if KindOf(wrapped) != KindForbidden {
		t.Fatalf("expected forbidden, got %q", KindOf(wrapped))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("foreign errors must classify as internal")
	}
}

func TestHTTPStatusAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{Unauthorized(), http.StatusUnauthorized, "UNAUTHORIZED"},
		{Forbidden(), http.StatusForbidden, "FORBIDDEN"},
		{NotFound("Conversation"), http.StatusNotFound, "NOT_FOUND"},
		{Conflict("dup"), http.StatusConflict, "CONFLICT"},
		{SelfConversation(), http.StatusBadRequest, "SELF_CONVERSATION"},
		{errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		k := KindOf(tc.err)
		if got := HTTPStatus(k); got != tc.status {
			t.Fatalf("%v: status=%d want %d", tc.err, got, tc.status)
		}
		if got := Code(k); got != tc.code {
			t.Fatalf("%v: code=%q want %q", tc.err, got, tc.code)
		}
	}
}

func TestPublicMessage_HidesInternalCause(t *testing.T) {
	err := Internal(errors.New("dial tcp 10.0.0.1:3306: refused"))
	if got := PublicMessage(err); got != "Internal server error" {
		t.Fatalf("leaked internal message: %q", got)
	}
	if got := PublicMessage(NotFound("Conversation")); got != "Conversation not found" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("internal error must unwrap to its cause")
	}
}

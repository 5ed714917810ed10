package network

import (
	"errors"
	"net/http"
	"testing"

	"lanshare/catalog"
)

func TestParseTargetAcceptsHostForms(t *testing.T) {
	cases := map[string]string{
		"192.168.1.20":               "http://192.168.1.20:8000",
		"192.168.1.20:9000":          "http://192.168.1.20:9000",
		"den.local":                  "http://den.local:8000",
		"http://192.168.1.20:8000/":  "http://192.168.1.20:8000",
		" https://share.example:443": "https://share.example:443",
	}
	for input, want := range cases {
		u, err := parseTarget(input)
		if err != nil {
			t.Fatalf("parseTarget(%q) failed: %v", input, err)
		}
		if u.String() != want {
			t.Fatalf("parseTarget(%q) = %q, want %q", input, u.String(), want)
		}
	}
}

func TestParseTargetRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "   ", "ftp://host", "http://"} {
		if _, err := parseTarget(input); err == nil {
			t.Fatalf("expected parseTarget(%q) to fail", input)
		}
	}
}

func TestAPIErrorMatchesCatalogSentinels(t *testing.T) {
	notFound := &APIError{StatusCode: http.StatusNotFound, Kind: kindNotFound}
	tooLarge := &APIError{StatusCode: http.StatusRequestEntityTooLarge, Kind: kindPayloadTooLarge}
	badName := &APIError{StatusCode: http.StatusBadRequest, Kind: kindBadRequest, Message: "bad"}

	if !errors.Is(notFound, catalog.ErrNotFound) || errors.Is(notFound, catalog.ErrPayloadTooLarge) {
		t.Fatalf("unexpected matching for not found error")
	}
	if !errors.Is(tooLarge, catalog.ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large to match")
	}
	if !errors.Is(badName, catalog.ErrInvalidName) {
		t.Fatalf("expected bad request to match invalid name")
	}
	if badName.Error() != "peer returned HTTP 400: bad" {
		t.Fatalf("unexpected message %q", badName.Error())
	}
}

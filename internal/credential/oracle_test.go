package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPOracleValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			t.Errorf("unexpected Authorization header: %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := &HTTPOracle{Endpoint: srv.URL, Client: srv.Client()}
	if got := o.Validate(context.Background(), "good-token"); got != Valid {
		t.Fatalf("got %v, want Valid", got)
	}
}

func TestHTTPOracleInvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := &HTTPOracle{Endpoint: srv.URL, Client: srv.Client()}
	if got := o.Validate(context.Background(), "bad-token"); got != Invalid {
		t.Fatalf("got %v, want Invalid", got)
	}
}

func TestHTTPOracleUpstreamFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := &HTTPOracle{Endpoint: srv.URL, Client: srv.Client()}
	if got := o.Validate(context.Background(), "whatever"); got != Unavailable {
		t.Fatalf("got %v, want Unavailable", got)
	}
}

func TestHTTPOracleUnreachableIsUnavailable(t *testing.T) {
	o := &HTTPOracle{Endpoint: "http://127.0.0.1:1", Client: http.DefaultClient}
	if got := o.Validate(context.Background(), "whatever"); got != Unavailable {
		t.Fatalf("got %v, want Unavailable", got)
	}
}

func TestStaticOracle(t *testing.T) {
	o := Static{Verdict: Valid}
	if got := o.Validate(context.Background(), "anything"); got != Valid {
		t.Fatalf("got %v, want Valid", got)
	}
}

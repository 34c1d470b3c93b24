package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyClassAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/roster/verify-class" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["class_id"] != "class-1" || body["presenter_id"] != "pres-1" {
			t.Errorf("unexpected payload %v", body)
		}
		json.NewEncoder(w).Encode(verifyResponse{Allowed: true})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if err := c.VerifyClass(context.Background(), "class-1", "pres-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyClassRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Allowed: false, Reason: "presenter not assigned to class"})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	err := c.VerifyClass(context.Background(), "class-1", "pres-2")
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}

func TestVerifySkip(t *testing.T) {
	c := New("http://directory.invalid", true)
	if err := c.VerifyClass(context.Background(), "class-1", "pres-1"); err != nil {
		t.Fatalf("skip mode should always allow, got %v", err)
	}
	if err := c.VerifyPresenter(context.Background(), "pres-1"); err != nil {
		t.Fatalf("skip mode should always allow, got %v", err)
	}
}

func TestVerifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if err := c.VerifyPresenter(context.Background(), "pres-1"); err == nil {
		t.Fatal("expected error on 500 from directory")
	}
}

package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestAuthAdmin_CreateUser(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/v1/admin/users" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("apikey") != "svc" || r.Header.Get("Authorization") != "Bearer svc" {
			t.Errorf("auth headers = %q / %q", r.Header.Get("apikey"), r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"id":"uuid-1","email":"a@b.co"}`)
	}))
	defer srv.Close()

	a := NewAuthAdmin(srv.URL+"/", "svc", srv.Client())
	id, err := a.CreateUser(context.Background(), NewUser{Email: "a@b.co", Password: "pw", FullName: "Ann B"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id != "uuid-1" {
		t.Errorf("id = %q, want uuid-1", id)
	}
	if got["email_confirm"] != true || got["email"] != "a@b.co" {
		t.Errorf("request body = %v", got)
	}
	meta, _ := got["user_metadata"].(map[string]any)
	if meta["full_name"] != "Ann B" {
		t.Errorf("user_metadata = %v", got["user_metadata"])
	}
}

func TestAuthAdmin_CreateUserExists(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		exists bool
	}{
		{"error code", 422, `{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`, true},
		{"message only", 422, `{"msg":"User already registered"}`, true},
		{"other 422", 422, `{"msg":"Password should be at least 6 characters"}`, false},
		{"server error", 500, `{"msg":"boom"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewAuthAdmin(srv.URL, "svc", srv.Client()).CreateUser(context.Background(), NewUser{Email: "x@y.z"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrUserExists); got != tt.exists {
				t.Errorf("errors.Is(ErrUserExists) = %v, want %v (err: %v)", got, tt.exists, err)
			}
		})
	}
}

func TestAuthAdmin_FindUserByEmail(t *testing.T) {
	var pages []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, page)
		if r.URL.Query().Get("per_page") != strconv.Itoa(listPageSize) {
			t.Errorf("per_page = %s", r.URL.Query().Get("per_page"))
		}
		users := []AuthUser{}
		if page == 1 {
			for i := 0; i < listPageSize; i++ {
				users = append(users, AuthUser{ID: fmt.Sprintf("id-%d", i), Email: fmt.Sprintf("u%d@x.io", i)})
			}
		} else if page == 2 {
			users = append(users, AuthUser{ID: "target", Email: "Found@X.io"})
		}
		json.NewEncoder(w).Encode(map[string]any{"users": users})
	}))
	defer srv.Close()

	a := NewAuthAdmin(srv.URL, "svc", srv.Client())
	id, err := a.FindUserByEmail(context.Background(), "found@x.io")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if id != "target" {
		t.Errorf("id = %q, want target", id)
	}

	pages = nil
	id, err = a.FindUserByEmail(context.Background(), "missing@x.io")
	if err != nil || id != "" {
		t.Errorf("FindUserByEmail(missing) = %q, %v", id, err)
	}
	if len(pages) != 2 {
		t.Errorf("pages requested = %v, want 2 pages", pages)
	}
}

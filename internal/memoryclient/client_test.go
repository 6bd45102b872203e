package memoryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexus-core/agentruntime/internal/models"
)

func TestAddAndSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/add", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(AddResult{Success: true, ID: "mem-1"})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(searchResponse{Results: []models.MemorySearchResult{
			{ID: "mem-1", Content: "water the plants", Score: 0.9},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})

	added, err := c.Add(context.Background(), "user-1", "water the plants", nil, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID != "mem-1" {
		t.Errorf("ID = %q", added.ID)
	}

	results, err := c.Search(context.Background(), "user-1", "plants", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "mem-1" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/add", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "wrong", MaxRetries: 1})
	_, err := c.Add(context.Background(), "user-1", "x", nil, "")
	if err == nil {
		t.Fatal("expected auth error")
	}
}

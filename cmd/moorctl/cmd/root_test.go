package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"
)

func TestCheckJQAvailable(t *testing.T) {
	_, err := exec.LookPath("jq")
	want := err == nil
	if got := checkJQAvailable(); got != want {
		t.Errorf("checkJQAvailable() = %v, want %v", got, want)
	}
}

func TestFormatWithJQ(t *testing.T) {
	if !checkJQAvailable() {
		t.Skip("jq not available, skipping test")
	}

	tests := []struct {
		name     string
		jsonData []byte
		wantErr  bool
	}{
		{name: "valid json", jsonData: []byte(`{"key":"value","number":42}`), wantErr: false},
		{name: "invalid json", jsonData: []byte(`{"key":"value",}`), wantErr: true},
		{name: "json array", jsonData: []byte(`[1,2,3]`), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatWithJQ(tt.jsonData)
			if (err != nil) != tt.wantErr {
				t.Errorf("formatWithJQ() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == "" {
				t.Error("formatWithJQ() returned empty string for valid JSON")
			}
		})
	}
}

func TestMakeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ping":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	oldServer, oldToken, oldTimeout := serverAddr, jwtToken, timeout
	defer func() { serverAddr, jwtToken, timeout = oldServer, oldToken, oldTimeout }()
	serverAddr = srv.URL
	jwtToken = "test-token"
	timeout = 5 * time.Second

	var resp struct {
		Status string `json:"status"`
	}
	if err := makeRequest("GET", "/v1/ping", &resp); err != nil {
		t.Fatalf("makeRequest() error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}

	if err := makeRequest("GET", "/missing", nil); err == nil {
		t.Error("makeRequest() did not surface a 404")
	}

	jwtToken = "wrong"
	if err := makeRequest("GET", "/v1/ping", &resp); err == nil {
		t.Error("makeRequest() did not surface a 401")
	}
}

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// tokenResponse is the shape login and register both return.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginAs logs in with the given credentials and returns the access token.
func LoginAs(t *testing.T, baseURL, username, password string) string {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status %d, body: %s", resp.StatusCode, ReadBody(t, resp))
	}

	var result tokenResponse
	ReadJSON(t, resp, &result)
	return result.AccessToken
}

// LoginAsAdmin is a convenience wrapper that logs in as admin.
func LoginAsAdmin(t *testing.T, baseURL string) string {
	t.Helper()
	return LoginAs(t, baseURL, TestAdminUsername, TestAdminPassword)
}

// RegisterUser creates an account through self-service registration and
// returns its access token.
func RegisterUser(t *testing.T, baseURL, username, password string) string {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":%q,"email":"%s@test.local"}`, username, password, username)
	resp, err := http.Post(baseURL+"/api/auth/register", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: status %d, body: %s", resp.StatusCode, ReadBody(t, resp))
	}

	var result tokenResponse
	ReadJSON(t, resp, &result)
	return result.AccessToken
}

// CreateUser creates a user via the admin API and returns the user ID.
func CreateUser(t *testing.T, baseURL, adminToken, username, password string, roles []string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]interface{}{
		"username": username,
		"password": password,
		"email":    username + "@test.local",
		"roles":    roles,
	})

	resp := AuthPost(t, baseURL+"/api/admin/users", adminToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user failed: status %d, body: %s", resp.StatusCode, ReadBody(t, resp))
	}

	var result struct {
		ID string `json:"id"`
	}
	ReadJSON(t, resp, &result)
	return result.ID
}

// authedRequest sends a request with the Bearer token set; a non-nil body is
// sent as JSON.
func authedRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create %s request: %v", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

// AuthGet sends a GET request with the Bearer token.
func AuthGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	return authedRequest(t, http.MethodGet, url, token, nil)
}

// AuthPost sends a POST request with the Bearer token and JSON body.
func AuthPost(t *testing.T, url, token string, body []byte) *http.Response {
	t.Helper()
	return authedRequest(t, http.MethodPost, url, token, body)
}

// AuthPut sends a PUT request with the Bearer token and JSON body.
func AuthPut(t *testing.T, url, token string, body []byte) *http.Response {
	t.Helper()
	return authedRequest(t, http.MethodPut, url, token, body)
}

// AuthDelete sends a DELETE request with the Bearer token.
func AuthDelete(t *testing.T, url, token string) *http.Response {
	t.Helper()
	return authedRequest(t, http.MethodDelete, url, token, nil)
}

// ReadJSON reads and decodes a JSON response body into the target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}

// ReadBody reads and returns the response body as a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

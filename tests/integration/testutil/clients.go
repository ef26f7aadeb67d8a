package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// RegisterClient registers a client application and returns its client ID.
func RegisterClient(t *testing.T, baseURL, publisherDomain, appName string) string {
	t.Helper()

	body := fmt.Sprintf(`{"publisher_domain":%q,"app_name":%q}`, publisherDomain, appName)
	resp, err := http.Post(baseURL+"/oauth/register", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("client registration request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("client registration failed: status %d, body: %s", resp.StatusCode, string(b))
	}

	var result struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}

	return result.ClientID
}

// AuthorizeResult is the response of a successful /oauth/authorize call.
type AuthorizeResult struct {
	SessionToken string `json:"session_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	ContextID    string `json:"context_id"`
	ContextName  string `json:"context_name"`
}

// Authorize grants a client access as the given user and returns the issued
// session token. contextID may be empty to fall back to the Default context.
func Authorize(t *testing.T, baseURL, userToken, clientID, contextID, scope string) *AuthorizeResult {
	t.Helper()

	reqBody := map[string]string{
		"client_id":  clientID,
		"context_id": contextID,
		"scope":      scope,
	}
	body, _ := json.Marshal(reqBody)

	resp := AuthPost(t, baseURL+"/oauth/authorize", userToken, body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("authorize failed: status %d, body: %s", resp.StatusCode, string(b))
	}

	var result AuthorizeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode authorize response: %v", err)
	}

	return &result
}

// CreateName creates a name variant for the user and returns its ID.
func CreateName(t *testing.T, baseURL, userToken, text, property string) string {
	t.Helper()

	body := fmt.Sprintf(`{"text":%q,"oidc_property":%q}`, text, property)
	resp := AuthPost(t, baseURL+"/api/names", userToken, []byte(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create name failed: status %d, body: %s", resp.StatusCode, string(b))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode name response: %v", err)
	}

	return result.ID
}

// CreateContext creates a context for the user and returns its ID.
func CreateContext(t *testing.T, baseURL, userToken, name string) string {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q}`, name)
	resp := AuthPost(t, baseURL+"/api/contexts", userToken, []byte(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create context failed: status %d, body: %s", resp.StatusCode, string(b))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode context response: %v", err)
	}

	return result.ID
}

// AssignProperty assigns a name variant to an OIDC property within a context.
func AssignProperty(t *testing.T, baseURL, userToken, contextID, property, nameID string) {
	t.Helper()

	body := fmt.Sprintf(`{"oidc_property":%q,"name_id":%q}`, property, nameID)
	resp := AuthPost(t, baseURL+"/api/contexts/"+contextID+"/assignments", userToken, []byte(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("assign property failed: status %d, body: %s", resp.StatusCode, string(b))
	}
}

// Resolve presents a session token on /oauth/resolve and returns the decoded
// response without asserting on the status code.
func Resolve(t *testing.T, baseURL, sessionToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/oauth/resolve", nil)
	if err != nil {
		t.Fatalf("failed to create resolve request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("resolve request failed: %v", err)
	}
	return resp
}

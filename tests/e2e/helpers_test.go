package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/gomega"
)

func jsonReader(s string) io.Reader {
	return strings.NewReader(s)
}

func login(base, username, password string) (string, error) {
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	resp, err := http.Post(base+"/api/auth/login", "application/json", jsonReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

func authGet(url, token string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func authPost(url, token string, body []byte) *http.Response {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func authDelete(url, token string) *http.Response {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeJSON(resp *http.Response, v any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

// createE2EUser provisions a user through the admin API, returning their ID.
func createE2EUser(username, password string, roles []string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"username": username,
		"password": password,
		"email":    username + "@e2e.test",
		"roles":    roles,
	})
	resp := authPost(baseURL+"/api/admin/users", adminToken, body)
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))

	var result struct {
		ID string `json:"id"`
	}
	decodeJSON(resp, &result)
	return result.ID
}

// registerE2EClient registers a client application and returns its client ID.
func registerE2EClient(domain, app string) string {
	body := []byte(fmt.Sprintf(`{"publisher_domain":%q,"app_name":%q}`, domain, app))
	resp, err := http.Post(baseURL+"/oauth/register", "application/json", bytes.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.StatusCode).To(BeElementOf(http.StatusCreated, http.StatusOK))

	var result struct {
		ClientID string `json:"client_id"`
	}
	decodeJSON(resp, &result)
	return result.ClientID
}

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client access flow", Ordered, func() {
	var (
		userToken    string
		clientID     string
		sessionToken string
	)

	BeforeAll(func() {
		createE2EUser("access-user", "access-pass-123", []string{"user"})
		var err error
		userToken, err = login(baseURL, "access-user", "access-pass-123")
		Expect(err).NotTo(HaveOccurred())

		body := []byte(`{"text":"Accessible Andy","oidc_property":"name","is_preferred":true}`)
		resp := authPost(baseURL+"/api/names", userToken, body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
	})

	It("registers a client application", func() {
		clientID = registerE2EClient("flow.e2e.test", "Flow App")
		Expect(clientID).To(HavePrefix("tnp_"))
	})

	It("re-registering yields the same client ID", func() {
		Expect(registerE2EClient("flow.e2e.test", "Flow App")).To(Equal(clientID))
	})

	It("authorizes the client and receives a session token", func() {
		body, _ := json.Marshal(map[string]string{"client_id": clientID, "scope": "openid profile"})
		resp := authPost(baseURL+"/oauth/authorize", userToken, body)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var grant struct {
			SessionToken string `json:"session_token"`
			TokenType    string `json:"token_type"`
			ContextName  string `json:"context_name"`
		}
		decodeJSON(resp, &grant)
		Expect(grant.SessionToken).NotTo(BeEmpty())
		Expect(grant.TokenType).To(Equal("bearer"))
		Expect(grant.ContextName).To(Equal("Default"))
		sessionToken = grant.SessionToken
	})

	It("resolves claims with the session token", func() {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/oauth/resolve", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+sessionToken)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result struct {
			Claims      map[string]any `json:"claims"`
			ClaimsToken string         `json:"claims_token"`
		}
		decodeJSON(resp, &result)
		Expect(result.Claims["name"]).To(Equal("Accessible Andy"))
		Expect(result.ClaimsToken).NotTo(BeEmpty())
	})

	It("introspects the token as active", func() {
		body := []byte(fmt.Sprintf(`{"token":%q}`, sessionToken))
		resp, err := http.Post(baseURL+"/oauth/token", "application/json", jsonReader(string(body)))
		Expect(err).NotTo(HaveOccurred())

		var intro struct {
			Active   bool   `json:"active"`
			ClientID string `json:"client_id"`
		}
		decodeJSON(resp, &intro)
		Expect(intro.Active).To(BeTrue())
		Expect(intro.ClientID).To(Equal(clientID))
	})

	It("revoking consent blocks resolution", func() {
		body, _ := json.Marshal(map[string]string{"client_id": clientID, "status": "revoked"})
		resp := authPost(baseURL+"/api/consents", userToken, body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		req, err := http.NewRequest(http.MethodGet, baseURL+"/oauth/resolve", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+sessionToken)
		resolveResp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resolveResp.Body.Close()
		Expect(resolveResp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("revoking the session makes the token unknown", func() {
		// Re-grant consent first so revocation failure modes stay distinct.
		body, _ := json.Marshal(map[string]string{"client_id": clientID, "status": "granted"})
		resp := authPost(baseURL+"/api/consents", userToken, body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		del := authDelete(baseURL+"/api/sessions/"+sessionToken, userToken)
		del.Body.Close()
		Expect(del.StatusCode).To(Equal(http.StatusNoContent))

		req, err := http.NewRequest(http.MethodGet, baseURL+"/oauth/resolve", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+sessionToken)
		resolveResp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resolveResp.Body.Close()
		Expect(resolveResp.StatusCode).To(Equal(http.StatusUnauthorized))
	})
})

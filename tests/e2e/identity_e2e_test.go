package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Identity management", Ordered, func() {
	var (
		userToken string
		nameID    string
		contextID string
	)

	BeforeAll(func() {
		createE2EUser("ident-user", "ident-pass-123", []string{"user"})
		var err error
		userToken, err = login(baseURL, "ident-user", "ident-pass-123")
		Expect(err).NotTo(HaveOccurred())
	})

	It("starts with only the permanent Default context", func() {
		resp := authGet(baseURL+"/api/contexts", userToken)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var contexts []struct {
			Name        string `json:"name"`
			IsPermanent bool   `json:"is_permanent"`
		}
		decodeJSON(resp, &contexts)
		Expect(contexts).To(HaveLen(1))
		Expect(contexts[0].Name).To(Equal("Default"))
		Expect(contexts[0].IsPermanent).To(BeTrue())
	})

	It("creates a name variant", func() {
		body := []byte(`{"text":"Dr. Ident","oidc_property":"name"}`)
		resp := authPost(baseURL+"/api/names", userToken, body)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var name struct {
			ID string `json:"id"`
		}
		decodeJSON(resp, &name)
		Expect(name.ID).NotTo(BeEmpty())
		nameID = name.ID
	})

	It("rejects unknown OIDC properties", func() {
		body := []byte(`{"text":"x","oidc_property":"shoe_size"}`)
		resp := authPost(baseURL+"/api/names", userToken, body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("creates a custom context", func() {
		resp := authPost(baseURL+"/api/contexts", userToken, []byte(`{"name":"Work"}`))
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var c struct {
			ID string `json:"id"`
		}
		decodeJSON(resp, &c)
		contextID = c.ID
	})

	It("assigns the variant to the context", func() {
		body, _ := json.Marshal(map[string]string{"oidc_property": "name", "name_id": nameID})
		resp := authPost(fmt.Sprintf("%s/api/contexts/%s/assignments", baseURL, contextID), userToken, body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		listResp := authGet(fmt.Sprintf("%s/api/contexts/%s/assignments", baseURL, contextID), userToken)
		var assignments []struct {
			OIDCProperty string `json:"oidc_property"`
			NameText     string `json:"name_text"`
		}
		decodeJSON(listResp, &assignments)
		Expect(assignments).To(HaveLen(1))
		Expect(assignments[0].NameText).To(Equal("Dr. Ident"))
	})

	It("refuses to delete the Default context", func() {
		resp := authGet(baseURL+"/api/contexts", userToken)
		var contexts []struct {
			ID          string `json:"id"`
			IsPermanent bool   `json:"is_permanent"`
		}
		decodeJSON(resp, &contexts)

		for _, c := range contexts {
			if c.IsPermanent {
				del := authDelete(baseURL+"/api/contexts/"+c.ID, userToken)
				del.Body.Close()
				Expect(del.StatusCode).To(Equal(http.StatusBadRequest))
			}
		}
	})

	It("deletes the custom context along with its assignments", func() {
		del := authDelete(baseURL+"/api/contexts/"+contextID, userToken)
		del.Body.Close()
		Expect(del.StatusCode).To(Equal(http.StatusNoContent))
	})
})

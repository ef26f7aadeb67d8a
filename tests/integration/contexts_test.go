package integration

import (
	"net/http"
	"testing"

	"github.com/truenamepath/truename/tests/integration/testutil"
)

func TestContexts_DefaultCannotBeDeleted(t *testing.T) {
	ts := testutil.NewTestServer(t)
	token := testutil.RegisterUser(t, ts.URL, "gil", "secret123")

	resp := testutil.AuthGet(t, ts.URL+"/api/contexts", token)
	var contexts []struct {
		ID          string `json:"id"`
		IsPermanent bool   `json:"is_permanent"`
	}
	testutil.ReadJSON(t, resp, &contexts)

	if len(contexts) != 1 || !contexts[0].IsPermanent {
		t.Fatalf("expected a single permanent context, got %+v", contexts)
	}

	del := testutil.AuthDelete(t, ts.URL+"/api/contexts/"+contexts[0].ID, token)
	del.Body.Close()
	if del.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 deleting Default context, got %d", del.StatusCode)
	}
}

func TestContexts_CreateAndDelete(t *testing.T) {
	ts := testutil.NewTestServer(t)
	token := testutil.RegisterUser(t, ts.URL, "hugo", "secret123")

	id := testutil.CreateContext(t, ts.URL, token, "Work")

	resp := testutil.AuthDelete(t, ts.URL+"/api/contexts/"+id, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestContexts_DuplicateNameRejected(t *testing.T) {
	ts := testutil.NewTestServer(t)
	token := testutil.RegisterUser(t, ts.URL, "iris", "secret123")

	testutil.CreateContext(t, ts.URL, token, "Gaming")

	body := `{"name":"Gaming"}`
	resp := testutil.AuthPost(t, ts.URL+"/api/contexts", token, []byte(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate context name, got %d", resp.StatusCode)
	}
}

func TestContexts_Assignments(t *testing.T) {
	ts := testutil.NewTestServer(t)
	token := testutil.RegisterUser(t, ts.URL, "june", "secret123")

	ctxID := testutil.CreateContext(t, ts.URL, token, "Work")
	nameID := testutil.CreateName(t, ts.URL, token, "Dr. June Kim", "name")

	testutil.AssignProperty(t, ts.URL, token, ctxID, "name", nameID)

	resp := testutil.AuthGet(t, ts.URL+"/api/contexts/"+ctxID+"/assignments", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var assignments []struct {
		OIDCProperty string `json:"oidc_property"`
		NameText     string `json:"name_text"`
	}
	testutil.ReadJSON(t, resp, &assignments)

	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}
	if assignments[0].NameText != "Dr. June Kim" {
		t.Errorf("expected assigned name text, got %q", assignments[0].NameText)
	}

	// Unassign and verify it is gone.
	del := testutil.AuthDelete(t, ts.URL+"/api/contexts/"+ctxID+"/assignments?property=name", token)
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", del.StatusCode)
	}

	resp = testutil.AuthGet(t, ts.URL+"/api/contexts/"+ctxID+"/assignments", token)
	assignments = nil
	testutil.ReadJSON(t, resp, &assignments)
	if len(assignments) != 0 {
		t.Errorf("expected no assignments after unassign, got %d", len(assignments))
	}
}

func TestContexts_AssignForeignNameRejected(t *testing.T) {
	ts := testutil.NewTestServer(t)
	kira := testutil.RegisterUser(t, ts.URL, "kira", "secret123")
	liam := testutil.RegisterUser(t, ts.URL, "liam", "secret123")

	ctxID := testutil.CreateContext(t, ts.URL, kira, "Work")
	foreignName := testutil.CreateName(t, ts.URL, liam, "Liam No", "name")

	body := `{"oidc_property":"name","name_id":"` + foreignName + `"}`
	resp := testutil.AuthPost(t, ts.URL+"/api/contexts/"+ctxID+"/assignments", kira, []byte(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 assigning another user's name, got %d", resp.StatusCode)
	}
}

package db

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestContextUniquePerUser(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")

	seedTestContext(t, database, userID, "Work", false)
	err := database.CreateContext(Context{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   "Work",
	})
	if err == nil {
		t.Fatal("expected error for duplicate context name")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}

	// Same name for a different user is fine.
	otherID := seedTestUser(t, database, "noor")
	seedTestContext(t, database, otherID, "Work", false)
}

func TestPermanentContextCannotBeDeleted(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")
	contextID := seedTestContext(t, database, userID, "Default", true)

	err := database.DeleteContext(contextID)
	if !errors.Is(err, ErrPermanentContext) {
		t.Errorf("DeleteContext(permanent) = %v, want ErrPermanentContext", err)
	}

	c, _ := database.GetContext(contextID)
	if c == nil {
		t.Fatal("permanent context was deleted")
	}
}

func TestDeleteContextCascades(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")
	nameID := seedTestName(t, database, userID, "Mira", PropertyGivenName, false)
	contextID := seedTestContext(t, database, userID, "Gaming", false)
	clientID := seedTestClient(t, database, "game.example.com", "Questboard")

	if err := database.AssignName(contextID, PropertyGivenName, nameID); err != nil {
		t.Fatalf("AssignName() returned error: %v", err)
	}
	if err := database.AssignClientContext(userID, clientID, contextID); err != nil {
		t.Fatalf("AssignClientContext() returned error: %v", err)
	}

	if err := database.DeleteContext(contextID); err != nil {
		t.Fatalf("DeleteContext() returned error: %v", err)
	}

	if c, _ := database.GetContext(contextID); c != nil {
		t.Error("context still present after delete")
	}
	if a, _ := database.GetClientContext(userID, clientID); a != nil {
		t.Error("client assignment still present after context delete")
	}
}

func TestGetPermanentContext(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")

	none, err := database.GetPermanentContext(userID)
	if err != nil {
		t.Fatalf("GetPermanentContext() returned error: %v", err)
	}
	if none != nil {
		t.Errorf("GetPermanentContext() = %v before any context exists", none)
	}

	want := seedTestContext(t, database, userID, "Default", true)
	seedTestContext(t, database, userID, "Work", false)

	got, err := database.GetPermanentContext(userID)
	if err != nil {
		t.Fatalf("GetPermanentContext() returned error: %v", err)
	}
	if got == nil || got.ID != want {
		t.Errorf("GetPermanentContext() = %v, want %s", got, want)
	}
}

func TestAssignNameUpsert(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")
	contextID := seedTestContext(t, database, userID, "Work", false)
	formal := seedTestName(t, database, userID, "Dr. Mira Patel", PropertyName, false)
	casual := seedTestName(t, database, userID, "Mira", PropertyName, false)

	if err := database.AssignName(contextID, PropertyName, formal); err != nil {
		t.Fatalf("AssignName() returned error: %v", err)
	}
	// Re-assigning the same property replaces the previous choice.
	if err := database.AssignName(contextID, PropertyName, casual); err != nil {
		t.Fatalf("AssignName() upsert returned error: %v", err)
	}

	assignments, err := database.ListAssignments(contextID)
	if err != nil {
		t.Fatalf("ListAssignments() returned error: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(assignments))
	}
	if assignments[0].NameID != casual {
		t.Errorf("NameID = %s, want %s", assignments[0].NameID, casual)
	}
}

func TestGetResolvedAssignments(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "mira")
	contextID := seedTestContext(t, database, userID, "Work", false)
	full := seedTestName(t, database, userID, "Dr. Mira Patel", PropertyName, false)
	given := seedTestName(t, database, userID, "Mira", PropertyGivenName, false)

	if err := database.AssignName(contextID, PropertyName, full); err != nil {
		t.Fatalf("AssignName() returned error: %v", err)
	}
	if err := database.AssignName(contextID, PropertyGivenName, given); err != nil {
		t.Fatalf("AssignName() returned error: %v", err)
	}

	resolved, err := database.GetResolvedAssignments(contextID)
	if err != nil {
		t.Fatalf("GetResolvedAssignments() returned error: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("got %d resolved assignments, want 2", len(resolved))
	}

	byProp := map[OIDCProperty]string{}
	for _, r := range resolved {
		byProp[r.OIDCProperty] = r.NameText
	}
	if byProp[PropertyName] != "Dr. Mira Patel" {
		t.Errorf("name = %q", byProp[PropertyName])
	}
	if byProp[PropertyGivenName] != "Mira" {
		t.Errorf("given_name = %q", byProp[PropertyGivenName])
	}
}

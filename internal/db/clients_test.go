package db

import (
	"testing"
	"time"
)

func TestClientRegistryLookup(t *testing.T) {
	database := newTestDatabase(t)

	clientID := seedTestClient(t, database, "hr.example.com", "Payroll")

	byID, err := database.GetClient(clientID)
	if err != nil {
		t.Fatalf("GetClient() returned error: %v", err)
	}
	if byID == nil || byID.AppName != "Payroll" {
		t.Errorf("GetClient() = %v", byID)
	}

	byApp, err := database.GetClientByApp("hr.example.com", "Payroll")
	if err != nil {
		t.Fatalf("GetClientByApp() returned error: %v", err)
	}
	if byApp == nil || byApp.ClientID != clientID {
		t.Errorf("GetClientByApp() = %v, want %s", byApp, clientID)
	}

	missing, err := database.GetClientByApp("hr.example.com", "Recruiting")
	if err != nil {
		t.Fatalf("GetClientByApp() returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetClientByApp() = %v for unregistered app, want nil", missing)
	}
}

func TestClientDuplicateApp(t *testing.T) {
	database := newTestDatabase(t)

	seedTestClient(t, database, "hr.example.com", "Payroll")
	err := database.CreateClient(Client{
		ClientID:        "tnp_differentid0001",
		PublisherDomain: "hr.example.com",
		AppName:         "Payroll",
	})
	if err == nil {
		t.Fatal("expected error for duplicate (domain, app) pair")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestTouchClient(t *testing.T) {
	database := newTestDatabase(t)
	clientID := seedTestClient(t, database, "hr.example.com", "Payroll")

	if err := database.TouchClient(clientID); err != nil {
		t.Fatalf("TouchClient() returned error: %v", err)
	}

	c, _ := database.GetClient(clientID)
	if c.LastUsedAt.IsZero() {
		t.Error("LastUsedAt still zero after TouchClient()")
	}
}

func TestConsentLifecycle(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "ines")
	clientID := seedTestClient(t, database, "hr.example.com", "Payroll")

	none, err := database.GetConsent(userID, clientID)
	if err != nil {
		t.Fatalf("GetConsent() returned error: %v", err)
	}
	if none != nil {
		t.Errorf("GetConsent() = %v before any consent, want nil", none)
	}

	grant := Consent{
		UserID:    userID,
		ClientID:  clientID,
		Status:    ConsentGranted,
		GrantedAt: time.Now(),
	}
	if err := database.UpsertConsent(grant); err != nil {
		t.Fatalf("UpsertConsent() returned error: %v", err)
	}

	c, _ := database.GetConsent(userID, clientID)
	if c == nil || c.Status != ConsentGranted {
		t.Fatalf("consent = %v, want granted", c)
	}

	grant.Status = ConsentRevoked
	grant.RevokedAt = time.Now()
	if err := database.UpsertConsent(grant); err != nil {
		t.Fatalf("UpsertConsent(revoke) returned error: %v", err)
	}

	c, _ = database.GetConsent(userID, clientID)
	if c.Status != ConsentRevoked {
		t.Errorf("Status = %q after revoke", c.Status)
	}
	if c.RevokedAt.IsZero() {
		t.Error("RevokedAt zero after revoke")
	}
}

func TestAssignClientContextUpsert(t *testing.T) {
	database := newTestDatabase(t)
	userID := seedTestUser(t, database, "ines")
	clientID := seedTestClient(t, database, "hr.example.com", "Payroll")
	work := seedTestContext(t, database, userID, "Work", false)
	personal := seedTestContext(t, database, userID, "Personal", false)

	if err := database.AssignClientContext(userID, clientID, work); err != nil {
		t.Fatalf("AssignClientContext() returned error: %v", err)
	}
	if err := database.AssignClientContext(userID, clientID, personal); err != nil {
		t.Fatalf("AssignClientContext() upsert returned error: %v", err)
	}

	assignment, err := database.GetClientContext(userID, clientID)
	if err != nil {
		t.Fatalf("GetClientContext() returned error: %v", err)
	}
	if assignment == nil || assignment.ContextID != personal {
		t.Errorf("ContextID = %v, want %s", assignment, personal)
	}

	all, err := database.ListClientAssignmentsByUser(userID)
	if err != nil {
		t.Fatalf("ListClientAssignmentsByUser() returned error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d assignments, want 1", len(all))
	}
}

package identity

import (
	"reflect"
	"testing"
)

func seededRegistry() *Registry {
	r := NewRegistry()
	r.RegisterIdentity(Identity{
		ID: "alice", Name: "Alice", Kind: KindUser, Email: "alice@corp.example",
		Department: "eng", Roles: []string{"developer", "oncall"},
		Groups: []string{"platform"}, Enabled: true,
	})
	r.RegisterIdentity(Identity{
		ID: "bob", Name: "Bob", Kind: KindUser, Email: "bob@corp.example",
		Roles: []string{"developer"}, Groups: []string{"web"}, Enabled: true,
	})
	r.RegisterIdentity(Identity{
		ID: "ci-runner", Name: "CI Runner", Kind: KindService, Enabled: true,
	})
	r.RegisterDevice(Device{
		ID: "laptop-1", Name: "Alice laptop", Kind: "workstation",
		OwnerID: "alice", Managed: true, Compliant: true, TrustScore: 0.9,
	})
	r.RegisterDevice(Device{
		ID: "byod-7", Name: "Bob phone", Kind: "mobile",
		OwnerID: "bob", Managed: false, Compliant: false, TrustScore: 0.4,
	})
	return r
}

func TestRegisterAndGetIdentity(t *testing.T) {
	r := seededRegistry()

	ident, ok := r.GetIdentity("alice")
	if !ok || ident.Name != "Alice" {
		t.Fatalf("GetIdentity = %+v, %v", ident, ok)
	}
	if ident.CreatedAt.IsZero() || ident.LastActive.IsZero() {
		t.Error("timestamps not defaulted")
	}
	if _, ok := r.GetIdentity("ghost"); ok {
		t.Error("unknown identity found")
	}

	// Empty kind defaults to user.
	r.RegisterIdentity(Identity{ID: "plain", Name: "Plain", Enabled: true})
	if ident, _ := r.GetIdentity("plain"); ident.Kind != KindUser {
		t.Errorf("default kind = %q", ident.Kind)
	}
}

func TestFindByEmailRoleGroup(t *testing.T) {
	r := seededRegistry()

	if ident, ok := r.FindByEmail("bob@corp.example"); !ok || ident.ID != "bob" {
		t.Errorf("FindByEmail = %+v, %v", ident, ok)
	}
	if _, ok := r.FindByEmail("nobody@corp.example"); ok {
		t.Error("found identity for unknown email")
	}

	devs := r.FindByRole("developer")
	if len(devs) != 2 || devs[0].ID != "alice" || devs[1].ID != "bob" {
		t.Errorf("FindByRole = %v", devs)
	}
	if got := r.FindByGroup("platform"); len(got) != 1 || got[0].ID != "alice" {
		t.Errorf("FindByGroup = %v", got)
	}
}

func TestDisableIdentity(t *testing.T) {
	r := seededRegistry()
	if !r.DisableIdentity("alice") {
		t.Fatal("DisableIdentity returned false")
	}
	if ident, _ := r.GetIdentity("alice"); ident.Enabled {
		t.Error("identity still enabled")
	}
	if r.DisableIdentity("ghost") {
		t.Error("disabled unknown identity")
	}
}

func TestDeviceOps(t *testing.T) {
	r := seededRegistry()

	d, ok := r.GetDevice("laptop-1")
	if !ok || d.OwnerID != "alice" {
		t.Fatalf("GetDevice = %+v, %v", d, ok)
	}
	if got := r.UserDevices("alice"); len(got) != 1 || got[0].ID != "laptop-1" {
		t.Errorf("UserDevices = %v", got)
	}
	nc := r.NonCompliantDevices()
	if len(nc) != 1 || nc[0].ID != "byod-7" {
		t.Errorf("NonCompliantDevices = %v", nc)
	}
}

func TestCorrelations(t *testing.T) {
	r := seededRegistry()
	r.AddCorrelation("a.smith", "alice")
	r.AddCorrelation("a.smith", "alice-admin")
	r.AddCorrelation("a.smith", "alice")

	got := r.ResolveAlias("a.smith")
	if !reflect.DeepEqual(got, []string{"alice", "alice-admin"}) {
		t.Errorf("ResolveAlias = %v", got)
	}
	if got := r.ResolveAlias("nobody"); len(got) != 0 {
		t.Errorf("unknown alias resolved to %v", got)
	}
}

func TestSessionTracking(t *testing.T) {
	r := seededRegistry()
	r.TrackSession("s1", "alice", "laptop-1", "10.0.0.5")
	r.TrackSession("s2", "alice", "", "10.0.0.6")
	r.TrackSession("s3", "bob", "byod-7", "10.9.9.9")

	all := r.ActiveSessions("")
	if len(all) != 3 {
		t.Fatalf("active sessions = %v", all)
	}
	aliceOnly := r.ActiveSessions("alice")
	if len(aliceOnly) != 2 || aliceOnly[0].SessionID != "s1" {
		t.Errorf("alice sessions = %v", aliceOnly)
	}

	if !r.EndSession("s2") {
		t.Error("EndSession returned false")
	}
	if r.EndSession("nope") {
		t.Error("ended unknown session")
	}
	if got := r.ActiveSessions("alice"); len(got) != 1 {
		t.Errorf("sessions after end = %v", got)
	}
}

func TestSummary(t *testing.T) {
	r := seededRegistry()
	r.DisableIdentity("bob")
	r.TrackSession("s1", "alice", "laptop-1", "")

	s := r.Summary()
	if s["total_identities"] != 3 || s["enabled_identities"] != 2 {
		t.Errorf("identity counts = %v", s)
	}
	if s["total_devices"] != 2 || s["compliant_devices"] != 1 {
		t.Errorf("device counts = %v", s)
	}
	if s["active_sessions"] != 1 {
		t.Errorf("active_sessions = %v", s["active_sessions"])
	}
	kinds := s["identity_types"].(map[string]int)
	if kinds[KindUser] != 2 || kinds[KindService] != 1 || kinds[KindSystem] != 0 {
		t.Errorf("identity_types = %v", kinds)
	}
}

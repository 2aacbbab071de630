// ABOUTME: Tests for document merge and validation
// ABOUTME: Covers key-wise upsert, removals, and field-level validation errors

package settings

import (
	"strings"
	"testing"
)

func TestMerge_UpsertServerByName(t *testing.T) {
	base := testDocument()
	partial := &Partial{
		Servers: map[string]ServerConfig{
			"time": {Owner: OwnerPublic, Transport: TransportSSE, URL: "https://time2.example/sse", Enabled: false},
		},
	}

	out := Merge(base, partial)

	if out.Servers["time"].URL != "https://time2.example/sse" {
		t.Errorf("URL = %q, want updated value", out.Servers["time"].URL)
	}
	if base.Servers["time"].URL != "https://time.example/sse" {
		t.Error("Merge must not mutate the base document")
	}
	if out.Servers["time"].Name != "time" {
		t.Errorf("Name = %q, want map key", out.Servers["time"].Name)
	}
}

func TestMerge_UnrelatedEntriesSurvive(t *testing.T) {
	base := testDocument()
	base.Servers["weather"] = ServerConfig{Name: "weather", Owner: "alice", Transport: TransportHTTP, URL: "https://w", Enabled: true}

	out := Merge(base, &Partial{
		Servers: map[string]ServerConfig{
			"time": {Owner: OwnerPublic, Transport: TransportSSE, URL: "https://t", Enabled: true},
		},
	})

	if _, ok := out.Servers["weather"]; !ok {
		t.Error("merging one server must not drop another")
	}
}

func TestMerge_GroupUpsertByID(t *testing.T) {
	base := testDocument()
	base.Groups = []Group{{ID: "g1", Name: "old", Members: nil}}

	out := Merge(base, &Partial{Groups: []Group{
		{ID: "g1", Name: "renamed", Members: []GroupMember{{ServerName: "time"}}},
		{ID: "g2", Name: "fresh"},
	}})

	if len(out.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(out.Groups))
	}
	if out.Groups[0].Name != "renamed" {
		t.Errorf("Groups[0].Name = %q, want %q", out.Groups[0].Name, "renamed")
	}
}

func TestMerge_UserKeepsPasswordHashWhenBlank(t *testing.T) {
	base := testDocument()

	out := Merge(base, &Partial{Users: []User{{Username: "admin", IsAdmin: false}}})

	u := out.FindUser("admin")
	if u == nil {
		t.Fatal("admin user missing after merge")
	}
	if u.PasswordHash != "x" {
		t.Errorf("PasswordHash = %q, want preserved hash", u.PasswordHash)
	}
	if u.IsAdmin {
		t.Error("IsAdmin should have been updated to false")
	}
}

func TestMerge_SavedVariablesPerUserPerKey(t *testing.T) {
	base := testDocument()
	base.SavedVariables["alice"] = map[string]SavedVariable{
		"API_KEY": {Key: "API_KEY", Value: "old"},
		"REGION":  {Key: "REGION", Value: "eu"},
	}

	out := Merge(base, &Partial{
		SavedVariables: map[string]map[string]SavedVariable{
			"alice": {"API_KEY": {Value: "new"}},
		},
		RemoveVars: map[string][]string{"alice": {"REGION"}},
	})

	if out.SavedVariables["alice"]["API_KEY"].Value != "new" {
		t.Error("API_KEY should have been updated")
	}
	if _, ok := out.SavedVariables["alice"]["REGION"]; ok {
		t.Error("REGION should have been removed")
	}
}

func TestMerge_RemoveServer(t *testing.T) {
	base := testDocument()

	out := Merge(base, &Partial{RemoveServers: []string{"time"}})

	if _, ok := out.Servers["time"]; ok {
		t.Error("server should have been removed")
	}
}

func TestValidate_DanglingGroupMember(t *testing.T) {
	doc := testDocument()
	doc.Groups = []Group{{ID: "g1", Name: "g", Members: []GroupMember{{ServerName: "ghost"}}}}

	errs := doc.Validate()
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Message, `unknown server "ghost"`) {
		t.Errorf("unexpected message: %s", errs[0].Message)
	}
	if errs[0].Field != "groups[0].members[0]" {
		t.Errorf("Field = %q, want field-level detail", errs[0].Field)
	}
}

func TestValidate_TransportRequirements(t *testing.T) {
	doc := NewDocument()
	doc.Servers["a"] = ServerConfig{Name: "a", Owner: "u", Transport: TransportStdio}
	doc.Servers["b"] = ServerConfig{Name: "b", Owner: "u", Transport: TransportSSE}
	doc.Servers["c"] = ServerConfig{Name: "c", Owner: "u", Transport: "carrier-pigeon"}

	errs := doc.Validate()
	if len(errs) != 3 {
		t.Fatalf("errors = %d, want 3: %v", len(errs), errs)
	}
}

func TestValidate_DuplicateGroupAndUser(t *testing.T) {
	doc := NewDocument()
	doc.Groups = []Group{{ID: "g1", Name: "a"}, {ID: "g1", Name: "a"}}
	doc.Users = []User{{Username: "bob"}, {Username: "bob"}}

	errs := doc.Validate()
	if len(errs) != 3 { // duplicate id, duplicate name, duplicate username
		t.Fatalf("errors = %d, want 3: %v", len(errs), errs)
	}
}

func TestValidate_SavedVariableKeyPattern(t *testing.T) {
	doc := NewDocument()
	doc.SavedVariables["alice"] = map[string]SavedVariable{
		"ok_KEY":  {Key: "ok_KEY", Value: "v"},
		"GOOD_99": {Key: "GOOD_99", Value: "v"},
	}

	errs := doc.Validate()
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Field, "ok_KEY") {
		t.Errorf("Field = %q, want the offending key", errs[0].Field)
	}
}

func TestClone_Independence(t *testing.T) {
	doc := testDocument()
	doc.SavedVariables["alice"] = map[string]SavedVariable{"K": {Key: "K", Value: "v"}}

	c := doc.Clone()
	c.Servers["time"] = ServerConfig{Name: "time", Owner: "hijacked"}
	c.SavedVariables["alice"]["K"] = SavedVariable{Key: "K", Value: "changed"}

	if doc.Servers["time"].Owner == "hijacked" {
		t.Error("clone shares server map with original")
	}
	if doc.SavedVariables["alice"]["K"].Value == "changed" {
		t.Error("clone shares variable map with original")
	}
}

package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
)

func testDocument(typ Type, name string) Document {
	body := fmt.Sprintf(`{%q: {"id": %q}}`, typ.SectionKey(), name)
	return Document{Type: typ, Name: name, Body: json.RawMessage(body)}
}

// TestRegistryRegisterAndGet verifies documents are retrievable by type and
// name.
func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	doc := testDocument(TypeIUT, "default")
	r.Register(doc)

	got, ok := r.Get(TypeIUT, "default")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Name != "default" || got.Type != TypeIUT {
		t.Errorf("Get() = %+v, want %+v", got, doc)
	}

	if _, ok := r.Get(TypeExecutionSpace, "default"); ok {
		t.Error("Get() with wrong type ok = true, want false")
	}
	if _, ok := r.Get(TypeIUT, "other"); ok {
		t.Error("Get() with wrong name ok = true, want false")
	}
}

// TestRegistryUpsert verifies re-registering replaces the stored document.
func TestRegistryUpsert(t *testing.T) {
	r := NewRegistry()
	r.Register(testDocument(TypeLogArea, "default"))

	updated := Document{
		Type: TypeLogArea,
		Name: "default",
		Body: json.RawMessage(`{"log": {"id": "default", "upload": {}}}`),
	}
	r.Register(updated)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	got, _ := r.Get(TypeLogArea, "default")
	if string(got.Body) != string(updated.Body) {
		t.Errorf("Get() body = %s, want %s", got.Body, updated.Body)
	}
}

// TestRegistryRemove verifies removal reports whether a document existed.
func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register(testDocument(TypeIUT, "default"))

	if !r.Remove(TypeIUT, "default") {
		t.Error("Remove() = false, want true")
	}
	if _, ok := r.Get(TypeIUT, "default"); ok {
		t.Error("Get() after Remove ok = true, want false")
	}
	if r.Remove(TypeIUT, "default") {
		t.Error("Remove() of missing document = true, want false")
	}
	if r.Remove(TypeLogArea, "default") {
		t.Error("Remove() of missing type = true, want false")
	}
}

// TestRegistryByType verifies per-type listings come back sorted by name.
func TestRegistryByType(t *testing.T) {
	r := NewRegistry()
	r.Register(testDocument(TypeIUT, "zebra"))
	r.Register(testDocument(TypeIUT, "alpha"))
	r.Register(testDocument(TypeExecutionSpace, "default"))

	docs := r.ByType(TypeIUT)
	if len(docs) != 2 {
		t.Fatalf("ByType() returned %d documents, want 2", len(docs))
	}
	if docs[0].Name != "alpha" || docs[1].Name != "zebra" {
		t.Errorf("ByType() order = [%s %s], want [alpha zebra]", docs[0].Name, docs[1].Name)
	}

	if docs := r.ByType(TypeLogArea); len(docs) != 0 {
		t.Errorf("ByType(log-area) returned %d documents, want 0", len(docs))
	}
}

// TestRegistryAll verifies the full listing is ordered by type then name.
func TestRegistryAll(t *testing.T) {
	r := NewRegistry()
	r.Register(testDocument(TypeLogArea, "default"))
	r.Register(testDocument(TypeIUT, "beta"))
	r.Register(testDocument(TypeExecutionSpace, "default"))
	r.Register(testDocument(TypeIUT, "alpha"))

	var got []string
	for _, d := range r.All() {
		got = append(got, string(d.Type)+"/"+d.Name)
	}
	want := []string{"iut/alpha", "iut/beta", "execution-space/default", "log-area/default"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() order = %v, want %v", got, want)
	}
}

// TestRegistryNames verifies names come back sorted.
func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register(testDocument(TypeIUT, "charlie"))
	r.Register(testDocument(TypeIUT, "alpha"))
	r.Register(testDocument(TypeIUT, "beta"))

	want := []string{"alpha", "beta", "charlie"}
	if got := r.Names(TypeIUT); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if got := r.Names(TypeLogArea); len(got) != 0 {
		t.Errorf("Names(log-area) = %v, want empty", got)
	}
}

// TestRegistryLen verifies the count spans all types.
func TestRegistryLen(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Errorf("Len() of empty registry = %d, want 0", r.Len())
	}
	r.Register(testDocument(TypeIUT, "default"))
	r.Register(testDocument(TypeExecutionSpace, "default"))
	r.Register(testDocument(TypeLogArea, "default"))
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

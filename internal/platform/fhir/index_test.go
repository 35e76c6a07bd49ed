package fhir

import (
	"testing"
)

func mustParse(t *testing.T, body string) Resource {
	t.Helper()
	res, err := ParseResource([]byte(body))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	return res
}

func hasEntry(entries []IndexEntry, code, value string) bool {
	for _, e := range entries {
		if e.Code == code && e.Value == value {
			return true
		}
	}
	return false
}

func countEntries(entries []IndexEntry, code, value string) int {
	n := 0
	for _, e := range entries {
		if e.Code == code && e.Value == value {
			n++
		}
	}
	return n
}

func TestExtractPatient(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Patient",
		"id": "P1",
		"meta": {"lastUpdated": "2024-03-01T10:00:00Z"},
		"active": true,
		"birthDate": "1980-05-12",
		"gender": "Female",
		"name": [{"family": "Stern", "given": ["Ada", "Marie"]}],
		"identifier": [{"system": "urn:mrn", "value": "MRN-42"}],
		"telecom": [
			{"system": "phone", "value": "555-0101"},
			{"system": "email", "value": "ada@example.org"}
		],
		"managingOrganization": {"reference": "Organization/org-9"}
	}`)

	entries := Extract(res)

	want := []IndexEntry{
		{ResourceType: "Patient", ResourceID: "P1", Code: "_id", Value: "p1"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "_lastUpdated", Value: "2024-03-01t10:00:00z"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "active", Value: "true"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "birthdate", Value: "1980-05-12"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "gender", Value: "female"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "family", Value: "stern"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "given", Value: "ada"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "given", Value: "marie"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "identifier", Value: "mrn-42"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "identifier", Value: "urn:mrn|mrn-42"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "phone", Value: "555-0101"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "email", Value: "ada@example.org"},
		{ResourceType: "Patient", ResourceID: "P1", Code: "organization", Value: "organization/org-9"},
	}
	for _, w := range want {
		if !hasEntry(entries, w.Code, w.Value) {
			t.Errorf("missing entry %s=%q", w.Code, w.Value)
		}
	}
	// phone rule must not pick up the email ContactPoint
	if hasEntry(entries, "phone", "ada@example.org") {
		t.Error("phone rule indexed an email ContactPoint")
	}
}

func TestExtractSkipsBlankValues(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Patient",
		"id": "p2",
		"gender": "   ",
		"name": [{"family": ""}]
	}`)

	entries := Extract(res)
	for _, e := range entries {
		if e.Code == "gender" || e.Code == "family" {
			t.Errorf("blank value indexed under %s: %q", e.Code, e.Value)
		}
	}
}

func TestExtractDedupesRows(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Observation",
		"id": "o1",
		"status": "final",
		"category": [
			{"coding": [{"code": "vital-signs"}]},
			{"coding": [{"code": "Vital-Signs"}]}
		]
	}`)

	entries := Extract(res)
	if n := countEntries(entries, "category", "vital-signs"); n != 1 {
		t.Errorf("category vital-signs rows = %d, want 1", n)
	}
}

func TestExtractObservationPatientAlias(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Observation",
		"id": "o2",
		"status": "final",
		"subject": {"reference": "Patient/P99"}
	}`)

	entries := Extract(res)
	if !hasEntry(entries, "subject", "patient/p99") {
		t.Error("missing subject=patient/p99")
	}
	if !hasEntry(entries, "patient", "patient/p99") {
		t.Error("missing patient alias for subject reference")
	}
}

func TestExtractReferenceTypeFilter(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Encounter",
		"id": "e1",
		"status": "finished",
		"participant": [
			{"individual": {"reference": "Practitioner/dr-1"}},
			{"individual": {"reference": "RelatedPerson/rp-1"}}
		]
	}`)

	entries := Extract(res)
	if !hasEntry(entries, "participant", "practitioner/dr-1") {
		t.Error("missing participant=practitioner/dr-1")
	}
	if !hasEntry(entries, "participant", "relatedperson/rp-1") {
		t.Error("missing participant=relatedperson/rp-1")
	}
	if !hasEntry(entries, "practitioner", "practitioner/dr-1") {
		t.Error("missing practitioner=practitioner/dr-1")
	}
	if hasEntry(entries, "practitioner", "relatedperson/rp-1") {
		t.Error("practitioner rule indexed a RelatedPerson reference")
	}
}

func TestExtractCodeableConcept(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Condition",
		"id": "c1",
		"code": {
			"text": "Essential Hypertension",
			"coding": [
				{"system": "http://snomed.info/sct", "code": "59621000"},
				{"system": "urn:icd10", "code": "I10"}
			]
		}
	}`)

	entries := Extract(res)
	for _, v := range []string{"essential hypertension", "59621000", "i10"} {
		if !hasEntry(entries, "code", v) {
			t.Errorf("missing code=%q", v)
		}
	}
}

func TestExtractUnknownTypeKeepsBaseRules(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Basic",
		"id": "b1",
		"meta": {"lastUpdated": "2024-01-01T00:00:00Z"}
	}`)

	entries := Extract(res)
	if !hasEntry(entries, "_id", "b1") {
		t.Error("missing _id row for unregistered resource type")
	}
	for _, e := range entries {
		if e.Code != "_id" && e.Code != "_lastUpdated" {
			t.Errorf("unexpected entry %s=%q for unregistered type", e.Code, e.Value)
		}
	}
}

func TestExtractBundleInlineEntries(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Bundle",
		"id": "bd1",
		"type": "document",
		"timestamp": "2024-06-01T08:30:00Z",
		"identifier": {"system": "urn:bundle", "value": "B-77"},
		"entry": [
			{"fullUrl": "urn:uuid:111", "resource": {"resourceType": "Composition", "id": "C9"}},
			{"fullUrl": "urn:uuid:222", "resource": {"resourceType": "MessageHeader", "id": "M3"}},
			{"fullUrl": "urn:uuid:333", "resource": {"resourceType": "Patient", "id": "p1"}}
		],
		"link": [{"relation": "self", "url": "https://example.org/Bundle/bd1"}]
	}`)

	entries := Extract(res)

	for _, want := range []struct{ code, value string }{
		{"type", "document"},
		{"timestamp", "2024-06-01t08:30:00z"},
		{"identifier", "b-77"},
		{"identifier", "urn:bundle|b-77"},
		{"fullurl", "urn:uuid:111"},
		{"composition", "composition/c9"},
		{"message", "messageheader/m3"},
		{"link", "https://example.org/bundle/bd1"},
	} {
		if !hasEntry(entries, want.code, want.value) {
			t.Errorf("missing %s=%q", want.code, want.value)
		}
	}
	// Inline entries of other types contribute no composition/message rows.
	if hasEntry(entries, "composition", "patient/p1") || hasEntry(entries, "message", "patient/p1") {
		t.Error("inline Patient entry indexed under composition/message")
	}
}

func TestExtractProvenancePatientTargetAlias(t *testing.T) {
	res := mustParse(t, `{
		"resourceType": "Provenance",
		"id": "prov1",
		"recorded": "2024-02-10T12:00:00Z",
		"occurredPeriod": {"start": "2024-02-09", "end": "2024-02-10"},
		"activity": {"coding": [{"code": "UPDATE"}]},
		"target": [
			{"reference": "Patient/p1"},
			{"reference": "Observation/obs1"}
		],
		"agent": [{"who": {"reference": "Practitioner/dr-1"}}],
		"entity": [{"what": {"reference": "Device/d1"}}]
	}`)

	entries := Extract(res)

	for _, want := range []struct{ code, value string }{
		{"recorded", "2024-02-10t12:00:00z"},
		{"when", "2024-02-09"},
		{"when", "2024-02-10"},
		{"activity", "update"},
		{"target", "patient/p1"},
		{"target", "observation/obs1"},
		{"patient", "patient/p1"},
		{"agent", "practitioner/dr-1"},
		{"entity", "device/d1"},
	} {
		if !hasEntry(entries, want.code, want.value) {
			t.Errorf("missing %s=%q", want.code, want.value)
		}
	}
	// Only patient-typed targets alias to the ownership row.
	if hasEntry(entries, "patient", "observation/obs1") {
		t.Error("non-patient target aliased to patient row")
	}
}

func TestIndexedTypes(t *testing.T) {
	types := IndexedTypes()
	if len(types) == 0 {
		t.Fatal("no indexed types registered")
	}
	seen := make(map[string]bool, len(types))
	for _, rt := range types {
		seen[rt] = true
	}
	for _, rt := range []string{"Patient", "Observation", "PractitionerRole", "Bundle", "Provenance"} {
		if !seen[rt] {
			t.Errorf("IndexedTypes missing %s", rt)
		}
	}
}

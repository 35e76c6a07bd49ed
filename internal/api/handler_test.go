package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/platform/auth"
	"github.com/medrec/medrec/internal/platform/fhir"
)

func newTestServer(claims map[string]interface{}, cfg auth.GateConfig) (*echo.Echo, fhir.Store) {
	store := fhir.NewMemStore()
	gate := auth.NewGate(store, cfg)
	h := NewHandler(store, gate, zerolog.Nop())

	e := echo.New()
	g := e.Group("/fhir")
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithCaller(c.Request().Context(), auth.NewCaller(claims))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(g)
	return e, store
}

func systemClaims() map[string]interface{} {
	return map[string]interface{}{"sub": "svc", "scope": "system/*.*"}
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResource(t *testing.T, rec *httptest.ResponseRecorder) fhir.Resource {
	t.Helper()
	res, err := fhir.ParseResource(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return res
}

func TestCreateAndRead(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})

	rec := do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "name": [{"family": "Stern"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/fhir+json" {
		t.Errorf("content type = %q, want application/fhir+json", ct)
	}
	created := decodeResource(t, rec)
	if created.ID() == "" {
		t.Fatal("created resource has no id")
	}
	if created.VersionID() != 1 {
		t.Errorf("created version = %d, want 1", created.VersionID())
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/fhir/Patient/"+created.ID() {
		t.Errorf("location = %q", loc)
	}

	rec = do(e, http.MethodGet, "/fhir/Patient/"+created.ID(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d, want 200", rec.Code)
	}
	if got := decodeResource(t, rec); got.ID() != created.ID() {
		t.Errorf("read id = %q, want %q", got.ID(), created.ID())
	}
}

func TestCreateTypeMismatch(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Observation"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateInvalidBody(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodPost, "/fhir/Patient", `{"no": "type"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateDuplicate(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	if rec := do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first create = %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", rec.Code)
	}
}

func TestReadMissing(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodGet, "/fhir/Patient/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateBumpsVersion(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1", "name": [{"family": "Stern"}]}`)

	rec := do(e, http.MethodPut, "/fhir/Patient/p1", `{"resourceType": "Patient", "id": "p1", "name": [{"family": "Weiss"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeResource(t, rec); got.VersionID() != 2 {
		t.Errorf("version = %d, want 2", got.VersionID())
	}

	// The index follows the update.
	if rec := do(e, http.MethodGet, "/fhir/Patient/search/family/weiss", ""); rec.Code != http.StatusOK {
		t.Errorf("search new value = %d, want 200", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fhir/Patient/search/family/stern", ""); rec.Code != http.StatusNotFound {
		t.Errorf("search old value = %d, want 404", rec.Code)
	}
}

func TestUpdateIDMismatch(t *testing.T) {
	e, store := newTestServer(systemClaims(), auth.GateConfig{})
	do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1"}`)

	rec := do(e, http.MethodPut, "/fhir/Patient/p1", `{"resourceType": "Patient", "id": "other"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	// No version bump happened.
	got, err := store.Get(context.Background(), "Patient", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.VersionID() != 1 {
		t.Errorf("version after rejected update = %d, want 1", got.VersionID())
	}
}

func TestUpdateMissing(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodPut, "/fhir/Patient/ghost", `{"resourceType": "Patient", "id": "ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPatchAdoptsRouteID(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1"}`)

	rec := do(e, http.MethodPatch, "/fhir/Patient/p1", `{"resourceType": "Patient", "gender": "female"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeResource(t, rec); got.ID() != "p1" {
		t.Errorf("patched id = %q, want p1", got.ID())
	}
}

func TestDeleteLifecycle(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1", "name": [{"family": "Stern"}]}`)

	if rec := do(e, http.MethodDelete, "/fhir/Patient/p1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fhir/Patient/p1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("read after delete = %d, want 404", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/fhir/Patient/p1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fhir/Patient/search/family/stern", ""); rec.Code != http.StatusNotFound {
		t.Errorf("search after delete = %d, want 404", rec.Code)
	}
	// History remains readable after delete, tombstone first.
	rec := do(e, http.MethodGet, "/fhir/Patient/p1/_history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history after delete = %d, want 200", rec.Code)
	}
	var versions []fhir.Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("history = %d versions, want 2", len(versions))
	}
	if versions[0].VersionID() != 2 || versions[1].VersionID() != 1 {
		t.Errorf("history versions = [%d %d], want [2 1]", versions[0].VersionID(), versions[1].VersionID())
	}
}

func TestSearchQueryForm(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	do(e, http.MethodPost, "/fhir/Patient", `{"resourceType": "Patient", "id": "p1", "gender": "female"}`)

	rec := do(e, http.MethodGet, "/fhir/Patient?gender=female", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}
	var results []fhir.Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	if len(results) != 1 || results[0].ID() != "p1" {
		t.Errorf("results = %v", results)
	}

	if rec := do(e, http.MethodGet, "/fhir/Patient?gender=female&active=true", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("two-parameter search = %d, want 400", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fhir/Patient", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("parameterless search = %d, want 400", rec.Code)
	}
}

func TestVReadInvalidVersion(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodGet, "/fhir/Patient/p1/_history/zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryMissing(t *testing.T) {
	e, _ := newTestServer(systemClaims(), auth.GateConfig{})
	rec := do(e, http.MethodGet, "/fhir/Patient/ghost/_history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func patientClaims(patientID, scope string) map[string]interface{} {
	return map[string]interface{}{"sub": "app", "scope": scope, "patient": patientID}
}

func TestPatientScopeReadOwnResources(t *testing.T) {
	e, store := newTestServer(patientClaims("p1", "patient/Observation.read"), auth.GateConfig{})
	seedObservation(t, store, "o1", "p1")
	seedObservation(t, store, "o2", "p2")

	if rec := do(e, http.MethodGet, "/fhir/Observation/o1", ""); rec.Code != http.StatusOK {
		t.Errorf("own observation = %d, want 200", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fhir/Observation/o2", ""); rec.Code != http.StatusForbidden {
		t.Errorf("foreign observation = %d, want 403", rec.Code)
	}
}

func TestPatientScopeSearchFiltersToNotFound(t *testing.T) {
	e, store := newTestServer(patientClaims("p1", "patient/Observation.read"), auth.GateConfig{})
	seedObservation(t, store, "o2", "p2")

	// Every match belongs to someone else, so the caller sees no results.
	rec := do(e, http.MethodGet, "/fhir/Observation/search/status/final", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("filtered-empty search = %d, want 404", rec.Code)
	}
}

func TestPatientScopeHistoryAllFiltered(t *testing.T) {
	e, store := newTestServer(patientClaims("p1", "patient/Observation.read"), auth.GateConfig{})
	seedObservation(t, store, "o2", "p2")

	rec := do(e, http.MethodGet, "/fhir/Observation/o2/_history", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("fully filtered history = %d, want 403", rec.Code)
	}
}

func TestPatientScopeCannotWrite(t *testing.T) {
	e, _ := newTestServer(patientClaims("p1", "patient/Observation.read"), auth.GateConfig{})
	rec := do(e, http.MethodPost, "/fhir/Observation", `{
		"resourceType": "Observation",
		"status": "final",
		"subject": {"reference": "Patient/p1"}
	}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("create with read-only scope = %d, want 403", rec.Code)
	}
}

func TestUserScopeWildcardWrite(t *testing.T) {
	e, _ := newTestServer(map[string]interface{}{
		"sub":      "dr",
		"scope":    "user/Patient.read user/*.write",
		"fhirUser": "Practitioner/dr-1",
	}, auth.GateConfig{})

	rec := do(e, http.MethodPost, "/fhir/Observation", `{
		"resourceType": "Observation",
		"status": "final",
		"subject": {"reference": "Patient/p1"}
	}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("wildcard write create = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// The write wildcard grants no reads on other types.
	created := decodeResource(t, rec)
	if rec := do(e, http.MethodGet, "/fhir/Observation/"+created.ID(), ""); rec.Code != http.StatusForbidden {
		t.Errorf("read without read scope = %d, want 403", rec.Code)
	}
}

func seedObservation(t *testing.T, s fhir.Store, id, patientID string) {
	t.Helper()
	res, err := fhir.ParseResource([]byte(`{
		"resourceType": "Observation",
		"id": "` + id + `",
		"status": "final",
		"subject": {"reference": "Patient/` + patientID + `"}
	}`))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if _, err := s.Create(context.Background(), res); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

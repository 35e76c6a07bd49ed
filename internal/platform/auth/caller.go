package auth

import (
	"context"
	"strings"
)

type contextKey string

const callerKey contextKey = "auth_caller"

// Caller is the authenticated principal extracted from a bearer token. It
// carries the raw claim set so context resolution (patient, fhirUser) can
// follow the several claim spellings issued by different authorization
// servers.
type Caller struct {
	Subject string
	Scopes  []string
	claims  map[string]interface{}
}

// NewCaller builds a Caller from a decoded JWT claim set. Scopes are read
// from the "scope" claim (space-separated string) and the "scp" claim
// (string or array), lower-cased.
func NewCaller(claims map[string]interface{}) *Caller {
	c := &Caller{claims: claims}
	c.Subject, _ = claims["sub"].(string)

	if raw, ok := claims["scope"].(string); ok {
		c.Scopes = append(c.Scopes, strings.Fields(strings.ToLower(raw))...)
	}
	switch scp := claims["scp"].(type) {
	case string:
		c.Scopes = append(c.Scopes, strings.Fields(strings.ToLower(scp))...)
	case []interface{}:
		for _, v := range scp {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				c.Scopes = append(c.Scopes, strings.ToLower(strings.TrimSpace(s)))
			}
		}
	}
	return c
}

// Claim returns the named claim as a string, or "" when absent or not a
// string.
func (c *Caller) Claim(name string) string {
	if c == nil || c.claims == nil {
		return ""
	}
	v, _ := c.claims[name].(string)
	return v
}

// patientClaimNames lists the claim spellings that carry the launch patient,
// in resolution order.
var patientClaimNames = []string{"patient", "patient_id", "launch_patient", "launch/patient"}

// PatientID resolves the patient the token was issued for. Values may arrive
// as bare ids or as "Patient/{id}" references; the reference prefix is
// stripped. Falls back to fhirUser when it points at a Patient.
func (c *Caller) PatientID() string {
	for _, name := range patientClaimNames {
		if v := c.Claim(name); v != "" {
			return stripRefPrefix(v, "Patient")
		}
	}
	if user := c.Claim("fhirUser"); user != "" {
		if id := refIDOfType(user, "Patient"); id != "" {
			return id
		}
	}
	return ""
}

// practitionerClaimNames lists the claim spellings that carry the
// practitioner id, in resolution order.
var practitionerClaimNames = []string{"practitioner", "practitioner_id"}

// PractitionerID resolves the practitioner behind a user-context token from
// the dedicated claims, falling back to fhirUser when it points at a
// Practitioner.
func (c *Caller) PractitionerID() string {
	for _, name := range practitionerClaimNames {
		if v := c.Claim(name); v != "" {
			return stripRefPrefix(v, "Practitioner")
		}
	}
	return refIDOfType(c.Claim("fhirUser"), "Practitioner")
}

// stripRefPrefix removes a leading "{resourceType}/" from a reference-shaped
// claim value, case-insensitively.
func stripRefPrefix(v, resourceType string) string {
	if i := strings.LastIndex(v, "/"); i >= 0 {
		if strings.EqualFold(v[:i], resourceType) {
			return v[i+1:]
		}
	}
	return v
}

// refIDOfType returns the id portion of v when v is a "{resourceType}/{id}"
// reference of the given type, accepting absolute URLs by taking the last two
// path segments.
func refIDOfType(v, resourceType string) string {
	if v == "" {
		return ""
	}
	segs := strings.Split(strings.TrimSuffix(v, "/"), "/")
	if len(segs) < 2 {
		return ""
	}
	if strings.EqualFold(segs[len(segs)-2], resourceType) {
		return segs[len(segs)-1]
	}
	return ""
}

// WithCaller stores the caller on the request context.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the authenticated caller, or nil when the
// request carried no token.
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey).(*Caller)
	return c
}

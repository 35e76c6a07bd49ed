package auth

import (
	"context"
	"sort"
	"strings"

	"github.com/medrec/medrec/internal/platform/fhir"
)

// AccessLevel ranks the SMART scope contexts. A higher level always implies
// the access of the levels below it.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessPatient
	AccessUser
	AccessSystem
)

func (l AccessLevel) String() string {
	switch l {
	case AccessPatient:
		return "patient"
	case AccessUser:
		return "user"
	case AccessSystem:
		return "system"
	default:
		return "none"
	}
}

// Actions a scope can grant or a request can ask for.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

var contextLevels = map[string]AccessLevel{
	"patient": AccessPatient,
	"user":    AccessUser,
	"system":  AccessSystem,
}

// writeActions are the mutating actions that collapse into one write
// capability: holding any of them grants any other.
var writeActions = map[string]bool{
	ActionCreate: true,
	ActionUpdate: true,
	ActionDelete: true,
	"write":      true,
}

// AccessLevelFor returns the strongest scope context that grants the action
// on the resource type. Scopes take the SMART form
// "{context}/{resourceType}.{action}" with "*" wildcards on either part;
// anything else is ignored. Matching is case-insensitive (the caller's
// scopes are already lower-cased).
func AccessLevelFor(c *Caller, resourceType, action string) AccessLevel {
	if c == nil {
		return AccessNone
	}
	wantType := strings.ToLower(resourceType)
	wantAction := strings.ToLower(action)

	level := AccessNone
	for _, scope := range c.Scopes {
		ctxPart, rest, ok := strings.Cut(scope, "/")
		if !ok {
			continue
		}
		scopeLevel, ok := contextLevels[ctxPart]
		if !ok || scopeLevel <= level {
			continue
		}
		scopeType, scopeAction, ok := strings.Cut(rest, ".")
		if !ok {
			continue
		}
		if scopeType != "*" && scopeType != wantType {
			continue
		}
		if !actionGranted(scopeAction, wantAction) {
			continue
		}
		level = scopeLevel
		if level == AccessSystem {
			break
		}
	}
	return level
}

func actionGranted(granted, requested string) bool {
	if granted == "*" || granted == requested {
		return true
	}
	return writeActions[granted] && writeActions[requested]
}

// ownedByPatient reports whether the resource's index rows tie it to the
// patient: a "patient" or "subject" row whose value is the patient
// reference. A Patient resource is the patient's own record when the ids
// match.
func ownedByPatient(res fhir.Resource, patientID string) bool {
	if patientID == "" {
		return false
	}
	if res.Type() == "Patient" {
		return strings.EqualFold(res.ID(), patientID)
	}
	want := strings.ToLower("patient/" + patientID)
	for _, e := range fhir.Extract(res) {
		if (e.Code == "patient" || e.Code == "subject") && e.Value == want {
			return true
		}
	}
	return false
}

// ownedByOrganizations reports whether any of the resource's "organization"
// index rows reference one of the given organization ids.
func ownedByOrganizations(res fhir.Resource, orgIDs []string) bool {
	if len(orgIDs) == 0 {
		return false
	}
	want := make(map[string]bool, len(orgIDs))
	for _, id := range orgIDs {
		want[strings.ToLower("organization/"+id)] = true
	}
	if res.Type() == "Organization" {
		for _, id := range orgIDs {
			if strings.EqualFold(res.ID(), id) {
				return true
			}
		}
	}
	for _, e := range fhir.Extract(res) {
		if e.Code == "organization" && want[e.Value] {
			return true
		}
	}
	return false
}

// IndexFinder is the slice of the store the authorization engine needs to
// resolve organization membership.
type IndexFinder interface {
	FindIndex(ctx context.Context, resourceType, code, value string) ([]fhir.IndexEntry, error)
	ResourceIndex(ctx context.Context, resourceType, id string) ([]fhir.IndexEntry, error)
}

// OrganizationIDs resolves the organizations a practitioner belongs to by
// walking PractitionerRole index rows: roles whose practitioner reference
// matches, then those roles' organization references. Results are
// lower-cased and de-duplicated; ordering is left to CallerOrganizationIDs.
func OrganizationIDs(ctx context.Context, finder IndexFinder, practitionerID string) ([]string, error) {
	if practitionerID == "" {
		return nil, nil
	}
	roles, err := finder.FindIndex(ctx, "PractitionerRole", "practitioner", "Practitioner/"+practitionerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var orgs []string
	for _, role := range roles {
		entries, err := finder.ResourceIndex(ctx, "PractitionerRole", role.ResourceID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Code != "organization" {
				continue
			}
			id := strings.TrimPrefix(e.Value, "organization/")
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			orgs = append(orgs, id)
		}
	}
	return orgs, nil
}

// organizationClaimNames lists the claim spellings that carry a direct
// organization grant.
var organizationClaimNames = []string{"organization", "organization_id"}

// CallerOrganizationIDs resolves every organization a caller acts for:
// direct organization claims on the token plus the organizations of the
// caller's practitioner, resolved through PractitionerRole. De-duplicated
// case-insensitively.
func CallerOrganizationIDs(ctx context.Context, finder IndexFinder, c *Caller) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	walked, err := OrganizationIDs(ctx, finder, c.PractitionerID())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(walked))
	var orgs []string
	add := func(id string) {
		id = strings.ToLower(id)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		orgs = append(orgs, id)
	}
	for _, name := range organizationClaimNames {
		if v := c.Claim(name); v != "" {
			add(stripRefPrefix(v, "Organization"))
		}
	}
	for _, id := range walked {
		add(id)
	}
	sort.Strings(orgs)
	return orgs, nil
}

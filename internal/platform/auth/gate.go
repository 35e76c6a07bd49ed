package auth

import (
	"context"

	"github.com/medrec/medrec/internal/platform/fhir"
)

// GateConfig tunes how strictly the gate treats user-context scopes.
type GateConfig struct {
	// UserRequiresOrgOwnership restricts user-level access to resources
	// owned by one of the practitioner's organizations instead of granting
	// the whole resource type.
	UserRequiresOrgOwnership bool
}

// Gate decides whether a caller may perform an action on a concrete
// resource, combining the scope level with ownership of the resource body.
type Gate struct {
	finder IndexFinder
	cfg    GateConfig
}

func NewGate(finder IndexFinder, cfg GateConfig) *Gate {
	return &Gate{finder: finder, cfg: cfg}
}

// CanAccess checks one resource. System scopes always pass; user scopes pass
// unless organization ownership is enforced; patient scopes require the
// resource to belong to the token's patient.
func (g *Gate) CanAccess(ctx context.Context, c *Caller, res fhir.Resource, action string) (bool, error) {
	switch AccessLevelFor(c, res.Type(), action) {
	case AccessSystem:
		return true, nil
	case AccessUser:
		if !g.cfg.UserRequiresOrgOwnership {
			return true, nil
		}
		orgs, err := CallerOrganizationIDs(ctx, g.finder, c)
		if err != nil {
			return false, err
		}
		return ownedByOrganizations(res, orgs), nil
	case AccessPatient:
		return ownedByPatient(res, c.PatientID()), nil
	default:
		return false, nil
	}
}

// FilterReadable drops the resources the caller may not read. Scope levels
// and organization membership are resolved once per call, not per resource.
func (g *Gate) FilterReadable(ctx context.Context, c *Caller, resources []fhir.Resource) ([]fhir.Resource, error) {
	if c == nil {
		return nil, nil
	}
	patientID := c.PatientID()
	levels := make(map[string]AccessLevel)
	var orgs []string
	orgsResolved := false

	var readable []fhir.Resource
	for _, res := range resources {
		level, ok := levels[res.Type()]
		if !ok {
			level = AccessLevelFor(c, res.Type(), ActionRead)
			levels[res.Type()] = level
		}
		switch level {
		case AccessSystem:
			readable = append(readable, res)
		case AccessUser:
			if !g.cfg.UserRequiresOrgOwnership {
				readable = append(readable, res)
				continue
			}
			if !orgsResolved {
				var err error
				orgs, err = CallerOrganizationIDs(ctx, g.finder, c)
				if err != nil {
					return nil, err
				}
				orgsResolved = true
			}
			if ownedByOrganizations(res, orgs) {
				readable = append(readable, res)
			}
		case AccessPatient:
			if ownedByPatient(res, patientID) {
				readable = append(readable, res)
			}
		}
	}
	return readable, nil
}

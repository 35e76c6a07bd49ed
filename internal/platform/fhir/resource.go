package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Resource is a schemaless FHIR resource body. Structural mapping onto typed
// models is the concern of external collaborators; the store, the index
// extractor, and the authorization engine only need the generic document
// plus a handful of well-known fields.
type Resource map[string]interface{}

// ParseResource decodes a JSON body into a Resource. The body must be a JSON
// object carrying a non-empty resourceType.
func ParseResource(data []byte) (Resource, error) {
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse resource: %w", err)
	}
	if r.Type() == "" {
		return nil, fmt.Errorf("parse resource: %w: missing resourceType", ErrInvalidResource)
	}
	return r, nil
}

// Type returns the resourceType field, or "" when absent.
func (r Resource) Type() string {
	t, _ := r["resourceType"].(string)
	return t
}

// ID returns the resource id, or "" when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// SetID sets the resource id.
func (r Resource) SetID(id string) {
	r["id"] = id
}

// Ref returns the relative reference for this resource ("Type/id").
func (r Resource) Ref() string {
	return r.Type() + "/" + r.ID()
}

// VersionID returns the numeric meta.versionId, or 0 when absent or
// non-numeric.
func (r Resource) VersionID() int {
	meta, _ := r["meta"].(map[string]interface{})
	if meta == nil {
		return 0
	}
	vid, _ := meta["versionId"].(string)
	v, err := strconv.Atoi(vid)
	if err != nil {
		return 0
	}
	return v
}

// LastUpdated returns meta.lastUpdated, or the zero time when absent or
// unparseable.
func (r Resource) LastUpdated() time.Time {
	meta, _ := r["meta"].(map[string]interface{})
	if meta == nil {
		return time.Time{}
	}
	raw, _ := meta["lastUpdated"].(string)
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetMeta stamps meta.versionId and meta.lastUpdated, preserving any other
// meta fields the caller supplied.
func (r Resource) SetMeta(versionID int, lastUpdated time.Time) {
	meta, _ := r["meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
		r["meta"] = meta
	}
	meta["versionId"] = strconv.Itoa(versionID)
	meta["lastUpdated"] = lastUpdated.UTC().Format(time.RFC3339Nano)
}

// Bytes returns the canonical JSON serialization of the resource.
func (r Resource) Bytes() ([]byte, error) {
	return json.Marshal(map[string]interface{}(r))
}

// Clone returns a deep copy. Mutating the copy never affects the original,
// which keeps stored bodies immutable against caller-side edits.
func (r Resource) Clone() Resource {
	return Resource(cloneValue(map[string]interface{}(r)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ParseReference splits a relative reference string ("Patient/p1") into its
// type and id. Absolute URLs and contained references ("#x") yield ok=false.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "#") {
		return "", "", false
	}
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

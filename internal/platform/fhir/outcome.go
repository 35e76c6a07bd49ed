package fhir

// OperationOutcome severity levels per FHIR R4 spec.
const (
	IssueSeverityError       = "error"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4 spec.
const (
	IssueTypeInvalid    = "invalid"
	IssueTypeNotFound   = "not-found"
	IssueTypeProcessing = "processing"
	IssueTypeForbidden  = "forbidden"
	IssueTypeDuplicate  = "duplicate"
	IssueTypeException  = "exception"
)

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// OperationOutcome is the FHIR resource returned on error responses.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// ErrorOutcome creates an error OperationOutcome with the given issue code.
func ErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, code, diagnostics)
}

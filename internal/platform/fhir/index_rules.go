package fhir

// indexRules maps each supported resource type to its extraction rule table.
// Every type additionally gets baseRules (_id, _lastUpdated). Types without a
// table still index the base rules, so unknown resources remain storable and
// retrievable by id.
//
// Reference-valued parameters index the literal relative reference string
// ("Patient/p1", lower-cased), which is what the ownership checks in the
// authorization engine match against. Resources owned by a patient carry the
// value under both their native parameter name and the "patient"/"subject"
// aliases, mirroring the FHIR search parameter definitions. Encounter's
// serviceProvider likewise carries an "organization" alias so
// organization-scoped access can match it, and Provenance targets pointing at
// a Patient carry a "patient" alias for the same reason.
var indexRules = map[string][]IndexRule{
	"Patient": {
		{Code: "active", Path: "active", Kind: KindToken},
		{Code: "birthdate", Path: "birthDate", Kind: KindDate},
		{Code: "deceased", Path: "deceasedBoolean", Kind: KindToken},
		{Code: "death-date", Path: "deceasedDateTime", Kind: KindDate},
		{Code: "gender", Path: "gender", Kind: KindToken},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "telecom", Path: "telecom", Kind: KindContact},
		{Code: "phone", Path: "telecom", Kind: KindContact, System: "phone"},
		{Code: "email", Path: "telecom", Kind: KindContact, System: "email"},
		{Code: "address", Path: "address.text", Kind: KindToken},
		{Code: "address-city", Path: "address.city", Kind: KindToken},
		{Code: "address-state", Path: "address.state", Kind: KindToken},
		{Code: "address-postalcode", Path: "address.postalCode", Kind: KindToken},
		{Code: "address-country", Path: "address.country", Kind: KindToken},
		{Code: "address-use", Path: "address.use", Kind: KindToken},
		{Code: "name", Path: "name.text", Kind: KindToken},
		{Code: "family", Path: "name.family", Kind: KindToken},
		{Code: "given", Path: "name.given", Kind: KindToken},
		{Code: "language", Path: "communication.language", Kind: KindCoding},
		{Code: "general-practitioner", Path: "generalPractitioner", Kind: KindReference},
		{Code: "organization", Path: "managingOrganization", Kind: KindReference},
		{Code: "link", Path: "link.other", Kind: KindReference},
	},

	"Practitioner": {
		{Code: "active", Path: "active", Kind: KindToken},
		{Code: "gender", Path: "gender", Kind: KindToken},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "telecom", Path: "telecom", Kind: KindContact},
		{Code: "phone", Path: "telecom", Kind: KindContact, System: "phone"},
		{Code: "email", Path: "telecom", Kind: KindContact, System: "email"},
		{Code: "address", Path: "address.text", Kind: KindToken},
		{Code: "address-city", Path: "address.city", Kind: KindToken},
		{Code: "address-state", Path: "address.state", Kind: KindToken},
		{Code: "address-postalcode", Path: "address.postalCode", Kind: KindToken},
		{Code: "address-country", Path: "address.country", Kind: KindToken},
		{Code: "name", Path: "name.text", Kind: KindToken},
		{Code: "family", Path: "name.family", Kind: KindToken},
		{Code: "given", Path: "name.given", Kind: KindToken},
		{Code: "communication", Path: "communication", Kind: KindCoding},
	},

	"PractitionerRole": {
		{Code: "active", Path: "active", Kind: KindToken},
		{Code: "practitioner", Path: "practitioner", Kind: KindReference},
		{Code: "organization", Path: "organization", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "role", Path: "code", Kind: KindCoding},
	},

	"Organization": {
		{Code: "active", Path: "active", Kind: KindToken},
		{Code: "name", Path: "name", Kind: KindToken},
		{Code: "name", Path: "alias", Kind: KindToken},
		{Code: "type", Path: "type", Kind: KindCoding},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "telecom", Path: "telecom", Kind: KindContact},
		{Code: "phone", Path: "telecom", Kind: KindContact, System: "phone"},
		{Code: "email", Path: "telecom", Kind: KindContact, System: "email"},
		{Code: "address", Path: "address.text", Kind: KindToken},
		{Code: "address-city", Path: "address.city", Kind: KindToken},
		{Code: "address-state", Path: "address.state", Kind: KindToken},
		{Code: "address-postalcode", Path: "address.postalCode", Kind: KindToken},
		{Code: "address-country", Path: "address.country", Kind: KindToken},
		{Code: "partof", Path: "partOf", Kind: KindReference},
		{Code: "endpoint", Path: "endpoint", Kind: KindReference},
	},

	"Location": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "operational-status", Path: "operationalStatus", Kind: KindCoding},
		{Code: "name", Path: "name", Kind: KindToken},
		{Code: "name", Path: "alias", Kind: KindToken},
		{Code: "type", Path: "type", Kind: KindCoding},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "telecom", Path: "telecom", Kind: KindContact},
		{Code: "address", Path: "address.text", Kind: KindToken},
		{Code: "address-city", Path: "address.city", Kind: KindToken},
		{Code: "address-state", Path: "address.state", Kind: KindToken},
		{Code: "address-postalcode", Path: "address.postalCode", Kind: KindToken},
		{Code: "address-country", Path: "address.country", Kind: KindToken},
		{Code: "address-use", Path: "address.use", Kind: KindToken},
		{Code: "organization", Path: "managingOrganization", Kind: KindReference},
		{Code: "partof", Path: "partOf", Kind: KindReference},
		{Code: "endpoint", Path: "endpoint", Kind: KindReference},
	},

	"Encounter": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "class", Path: "class", Kind: KindCoding},
		{Code: "type", Path: "type", Kind: KindCoding},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "date", Path: "period.start", Kind: KindDate},
		{Code: "date", Path: "period.end", Kind: KindDate},
		{Code: "service-provider", Path: "serviceProvider", Kind: KindReference},
		{Code: "organization", Path: "serviceProvider", Kind: KindReference},
		{Code: "part-of", Path: "partOf", Kind: KindReference},
		{Code: "appointment", Path: "appointment", Kind: KindReference},
		{Code: "participant", Path: "participant.individual", Kind: KindReference},
		{Code: "practitioner", Path: "participant.individual", Kind: KindReference, RefType: "Practitioner"},
		{Code: "participant-type", Path: "participant.type", Kind: KindCoding},
		{Code: "reason-code", Path: "reasonCode", Kind: KindCoding},
		{Code: "reason-reference", Path: "reasonReference", Kind: KindReference},
		{Code: "diagnosis", Path: "diagnosis.condition", Kind: KindReference},
		{Code: "location", Path: "location.location", Kind: KindReference},
		{Code: "episode-of-care", Path: "episodeOfCare", Kind: KindReference},
	},

	"Observation": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "code", Path: "code", Kind: KindCoding},
		{Code: "category", Path: "category", Kind: KindCoding},
		{Code: "date", Path: "effectiveDateTime", Kind: KindDate},
		{Code: "date", Path: "effectivePeriod.start", Kind: KindDate},
		{Code: "date", Path: "effectivePeriod.end", Kind: KindDate},
		{Code: "date", Path: "issued", Kind: KindDate},
		{Code: "based-on", Path: "basedOn", Kind: KindReference},
		{Code: "performer", Path: "performer", Kind: KindReference},
		{Code: "focus", Path: "focus", Kind: KindReference},
		{Code: "device", Path: "device", Kind: KindReference},
		{Code: "specimen", Path: "specimen", Kind: KindReference},
		{Code: "value-quantity", Path: "valueQuantity.value", Kind: KindToken},
		{Code: "value-quantity", Path: "valueQuantity.code", Kind: KindToken},
	},

	"Condition": {
		{Code: "clinical-status", Path: "clinicalStatus", Kind: KindCoding},
		{Code: "verification-status", Path: "verificationStatus", Kind: KindCoding},
		{Code: "category", Path: "category", Kind: KindCoding},
		{Code: "severity", Path: "severity", Kind: KindCoding},
		{Code: "code", Path: "code", Kind: KindCoding},
		{Code: "body-site", Path: "bodySite", Kind: KindCoding},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "onset-date", Path: "onsetDateTime", Kind: KindDate},
		{Code: "abatement-date", Path: "abatementDateTime", Kind: KindDate},
		{Code: "recorded-date", Path: "recordedDate", Kind: KindDate},
		{Code: "asserter", Path: "asserter", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"AllergyIntolerance": {
		{Code: "clinical-status", Path: "clinicalStatus", Kind: KindCoding},
		{Code: "verification-status", Path: "verificationStatus", Kind: KindCoding},
		{Code: "type", Path: "type", Kind: KindToken},
		{Code: "category", Path: "category", Kind: KindToken},
		{Code: "criticality", Path: "criticality", Kind: KindToken},
		{Code: "code", Path: "code", Kind: KindCoding},
		{Code: "patient", Path: "patient", Kind: KindReference},
		{Code: "subject", Path: "patient", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "onset", Path: "onsetDateTime", Kind: KindDate},
		{Code: "last-date", Path: "lastOccurrence", Kind: KindDate},
		{Code: "asserter", Path: "asserter", Kind: KindReference},
		{Code: "recorder", Path: "recorder", Kind: KindReference},
		{Code: "severity", Path: "reaction.severity", Kind: KindToken},
		{Code: "manifestation", Path: "reaction.manifestation", Kind: KindCoding},
		{Code: "manifestation", Path: "reaction.description", Kind: KindToken},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"Procedure": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "category", Path: "category", Kind: KindCoding},
		{Code: "code", Path: "code", Kind: KindCoding},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "date", Path: "performedDateTime", Kind: KindDate},
		{Code: "date", Path: "performedPeriod.start", Kind: KindDate},
		{Code: "date", Path: "performedPeriod.end", Kind: KindDate},
		{Code: "performer", Path: "performer.actor", Kind: KindReference},
		{Code: "location", Path: "location", Kind: KindReference},
		{Code: "reason-code", Path: "reasonCode", Kind: KindCoding},
		{Code: "reason-reference", Path: "reasonReference", Kind: KindReference},
		{Code: "based-on", Path: "basedOn", Kind: KindReference},
		{Code: "part-of", Path: "partOf", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"MedicationRequest": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "intent", Path: "intent", Kind: KindToken},
		{Code: "priority", Path: "priority", Kind: KindToken},
		{Code: "authoredon", Path: "authoredOn", Kind: KindDate},
		{Code: "code", Path: "medicationCodeableConcept", Kind: KindCoding},
		{Code: "medication", Path: "medicationReference", Kind: KindReference},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "requester", Path: "requester", Kind: KindReference},
		{Code: "performer", Path: "performer", Kind: KindReference},
		{Code: "category", Path: "category", Kind: KindCoding},
		{Code: "group-or-identifier", Path: "groupIdentifier", Kind: KindIdentifier},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"ServiceRequest": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "intent", Path: "intent", Kind: KindToken},
		{Code: "priority", Path: "priority", Kind: KindToken},
		{Code: "authored", Path: "authoredOn", Kind: KindDate},
		{Code: "code", Path: "code", Kind: KindCoding},
		{Code: "category", Path: "category", Kind: KindCoding},
		{Code: "body-site", Path: "bodySite", Kind: KindCoding},
		{Code: "subject", Path: "subject", Kind: KindReference},
		{Code: "patient", Path: "subject", Kind: KindReference},
		{Code: "encounter", Path: "encounter", Kind: KindReference},
		{Code: "occurrence", Path: "occurrenceDateTime", Kind: KindDate},
		{Code: "occurrence", Path: "occurrencePeriod.start", Kind: KindDate},
		{Code: "occurrence", Path: "occurrencePeriod.end", Kind: KindDate},
		{Code: "requester", Path: "requester", Kind: KindReference},
		{Code: "performer", Path: "performer", Kind: KindReference},
		{Code: "replaces", Path: "replaces", Kind: KindReference},
		{Code: "specimen", Path: "specimen", Kind: KindReference},
		{Code: "requisition", Path: "requisition", Kind: KindIdentifier},
		{Code: "based-on", Path: "basedOn", Kind: KindReference},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"Appointment": {
		{Code: "status", Path: "status", Kind: KindToken},
		{Code: "appointment-type", Path: "appointmentType", Kind: KindCoding},
		{Code: "service-type", Path: "serviceType", Kind: KindCoding},
		{Code: "specialty", Path: "specialty", Kind: KindCoding},
		{Code: "reason-code", Path: "reasonCode", Kind: KindCoding},
		{Code: "reason-reference", Path: "reasonReference", Kind: KindReference},
		{Code: "date", Path: "start", Kind: KindDate},
		{Code: "date", Path: "end", Kind: KindDate},
		{Code: "slot", Path: "slot", Kind: KindReference},
		{Code: "based-on", Path: "basedOn", Kind: KindReference},
		{Code: "supporting-info", Path: "supportingInformation", Kind: KindReference},
		{Code: "actor", Path: "participant.actor", Kind: KindReference},
		{Code: "patient", Path: "participant.actor", Kind: KindReference, RefType: "Patient"},
		{Code: "practitioner", Path: "participant.actor", Kind: KindReference, RefType: "Practitioner"},
		{Code: "location", Path: "participant.actor", Kind: KindReference, RefType: "Location"},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
	},

	"Bundle": {
		{Code: "type", Path: "type", Kind: KindToken},
		{Code: "timestamp", Path: "timestamp", Kind: KindDate},
		{Code: "identifier", Path: "identifier", Kind: KindIdentifier},
		{Code: "fullurl", Path: "entry.fullUrl", Kind: KindToken},
		{Code: "composition", Path: "entry.resource", Kind: KindInline, RefType: "Composition"},
		{Code: "message", Path: "entry.resource", Kind: KindInline, RefType: "MessageHeader"},
		{Code: "link", Path: "link.url", Kind: KindToken},
	},

	"Provenance": {
		{Code: "recorded", Path: "recorded", Kind: KindDate},
		{Code: "location", Path: "location", Kind: KindReference},
		{Code: "activity", Path: "activity", Kind: KindCoding},
		{Code: "when", Path: "occurredPeriod.start", Kind: KindDate},
		{Code: "when", Path: "occurredPeriod.end", Kind: KindDate},
		{Code: "when", Path: "occurredDateTime", Kind: KindDate},
		{Code: "target", Path: "target", Kind: KindReference},
		{Code: "patient", Path: "target", Kind: KindReference, RefType: "Patient"},
		{Code: "agent", Path: "agent.who", Kind: KindReference},
		{Code: "entity", Path: "entity.what", Kind: KindReference},
	},
}

func rulesFor(resourceType string) []IndexRule {
	return indexRules[resourceType]
}

// IndexedTypes returns the resource types with a registered rule table,
// for capability reporting.
func IndexedTypes() []string {
	types := make([]string, 0, len(indexRules))
	for t := range indexRules {
		types = append(types, t)
	}
	return types
}

// Copyright 2025 Kylix Project
//
// PROV-O Predicate Table - Role constraints for recognized provenance
// predicates
//
// Shared by the admission pipeline's shape check and the SPARQL variable
// mapper.

package provo

import "strings"

// Role names a PROV-O participant kind, matched against the "kind:" prefix
// convention used by triple values (e.g. "entity:e1", "activity:a1").
type Role string

const (
	RoleEntity   Role = "entity"
	RoleActivity Role = "activity"
	RoleAgent    Role = "agent"
)

// Relationship is one recognized PROV-O predicate's admitted subject/object
// kinds, and the user-facing variable names the mapper projects them
// under.
type Relationship struct {
	SubjectKind Role
	ObjectKind  Role
	SubjectVar  string
	ObjectVar   string
}

// Table is the canonical PROV-O predicate table. Predicates are
// recognized with or without a leading "prov:" namespace prefix;
// Normalize strips it before lookup.
var Table = map[string]Relationship{
	"wasGeneratedBy":    {SubjectKind: RoleEntity, ObjectKind: RoleActivity, SubjectVar: "entity", ObjectVar: "activity"},
	"wasAttributedTo":   {SubjectKind: RoleEntity, ObjectKind: RoleAgent, SubjectVar: "entity", ObjectVar: "agent"},
	"wasDerivedFrom":    {SubjectKind: RoleEntity, ObjectKind: RoleEntity, SubjectVar: "generatedEntity", ObjectVar: "usedEntity"},
	"wasInformedBy":     {SubjectKind: RoleActivity, ObjectKind: RoleActivity, SubjectVar: "informed", ObjectVar: "informant"},
	"actedOnBehalfOf":   {SubjectKind: RoleAgent, ObjectKind: RoleAgent, SubjectVar: "delegate", ObjectVar: "responsible"},
	"wasAssociatedWith": {SubjectKind: RoleActivity, ObjectKind: RoleAgent, SubjectVar: "activity", ObjectVar: "agent"},
	"used":              {SubjectKind: RoleActivity, ObjectKind: RoleEntity, SubjectVar: "activity", ObjectVar: "entity"},
	"wasStartedBy":      {SubjectKind: RoleActivity, ObjectKind: RoleEntity, SubjectVar: "activity", ObjectVar: "trigger"},
	"wasEndedBy":        {SubjectKind: RoleActivity, ObjectKind: RoleEntity, SubjectVar: "activity", ObjectVar: "trigger"},
	"wasInvalidatedBy":  {SubjectKind: RoleEntity, ObjectKind: RoleActivity, SubjectVar: "entity", ObjectVar: "activity"},
}

// Normalize strips an optional "prov:" namespace prefix from a predicate.
func Normalize(predicate string) string {
	return strings.TrimPrefix(predicate, "prov:")
}

// Lookup returns the Relationship for a (possibly prov:-prefixed)
// predicate, and whether it is recognized. Unknown predicates pass
// through the admission pipeline unchecked.
func Lookup(predicate string) (Relationship, bool) {
	rel, ok := Table[Normalize(predicate)]
	return rel, ok
}

// KindOf extracts the "kind:" prefix of a triple value (the part before
// the first colon), e.g. KindOf("entity:e1") == RoleEntity. A value with
// no colon has no determinable kind.
func KindOf(value string) (Role, bool) {
	idx := strings.Index(value, ":")
	if idx <= 0 {
		return "", false
	}
	return Role(value[:idx]), true
}

// Satisfies reports whether subject/object match rel's admitted kinds.
func (rel Relationship) Satisfies(subject, object string) bool {
	subjectKind, ok := KindOf(subject)
	if !ok || subjectKind != rel.SubjectKind {
		return false
	}
	objectKind, ok := KindOf(object)
	if !ok {
		return false
	}
	return objectKind == rel.ObjectKind
}

package model

import "time"

// Document types a usage event can be recorded for.
const (
	DocumentWorksheet = "worksheet"
	DocumentExam      = "exam"
)

// UsageEvent is one append-only row of the `usage_events` table. Rows are
// never updated or deleted individually; entitlement decisions aggregate
// them by count.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – user the generation was performed for.
//  DocumentType – worksheet | exam.
//  Subject      – school subject of the generated document.
//  Grade        – grade level of the generated document.
//  Language     – language the document was generated in.
//  CreatedAt    – timestamp of creation.
type UsageEvent struct {
	ID           uint64    // usage_events.id
	UserID       uint64    // usage_events.user_id
	DocumentType string    // usage_events.document_type
	Subject      string    // usage_events.subject
	Grade        string    // usage_events.grade
	Language     string    // usage_events.language
	CreatedAt    time.Time // usage_events.created_at
}

// ValidDocumentType reports whether t is one of the recordable document
// types.
func ValidDocumentType(t string) bool {
	return t == DocumentWorksheet || t == DocumentExam
}

package documents

import "time"

// DefaultTitle labels documents whose upload carried no title.
const DefaultTitle = "Pdf Document Saved"

// Document is the persisted text of one ingested PDF. It is created once
// and never updated.
type Document struct {
	ID            string
	Title         string
	Content       string
	OwnerID       string
	SourceLocator string
	CreatedAt     time.Time
}

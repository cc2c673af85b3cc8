package model

import "time"

// DocumentType is the owner type of Document records.
const DocumentType = "Document"

// ScanAttribute is the mounted upload of a Document.
const ScanAttribute = "scan"

// Document is an uploaded document with a scanned image attached.
type Document struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title     string     `json:"title"`
	Scan      Attachment `gorm:"embedded;embeddedPrefix:scan_" json:"scan"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// OwnerType implements Record.
func (d *Document) OwnerType() string { return DocumentType }

// OwnerID implements Record.
func (d *Document) OwnerID() string { return d.ID }

// Attachment implements Record.
func (d *Document) Attachment(attribute string) *Attachment {
	if attribute == ScanAttribute {
		return &d.Scan
	}

	return nil
}

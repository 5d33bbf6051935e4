package domain

import (
	"fmt"
	"time"
)

// DocumentType classifies an indexed document by its file extension.
type DocumentType string

const (
	DocumentTypeMarkdown DocumentType = "markdown"
	DocumentTypeCode     DocumentType = "code"
	DocumentTypeText     DocumentType = "text"
)

// Document is an external file indexed by the knowledge base.
type Document struct {
	ID        string
	Name      string
	Path      string
	Type      DocumentType
	Size      int64
	Hash      string // SHA-256 content fingerprint, used for dedup
	Keywords  []string
	Language  string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentChunk is one embeddable segment of a document.
type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Section    string
	StartLine  int
	EndLine    int
	Embedding  []float32
	CreatedAt  time.Time
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.Name == "" {
		return fmt.Errorf("document Name is required")
	}
	if d.Hash == "" {
		return fmt.Errorf("document Hash is required")
	}
	if !isValidDocumentType(d.Type) {
		return fmt.Errorf("document Type is invalid: %s", d.Type)
	}
	return nil
}

func isValidDocumentType(t DocumentType) bool {
	switch t {
	case DocumentTypeMarkdown, DocumentTypeCode, DocumentTypeText:
		return true
	}
	return false
}

// DocumentTypeForExtension maps a file extension (without dot) to a
// DocumentType. Unknown extensions are treated as plain text.
func DocumentTypeForExtension(ext string) DocumentType {
	switch ext {
	case "md", "markdown":
		return DocumentTypeMarkdown
	case "go", "js", "ts", "py", "rs", "java", "c", "h", "cpp", "rb", "sh", "sql":
		return DocumentTypeCode
	default:
		return DocumentTypeText
	}
}

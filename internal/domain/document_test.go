package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDocument(t *testing.T) {
	valid := func() *Document {
		return &Document{
			ID:   "doc-1",
			Name: "notes.md",
			Hash: "abc123",
			Type: DocumentTypeMarkdown,
		}
	}

	assert.NoError(t, ValidateDocument(valid()))
	assert.Error(t, ValidateDocument(nil))

	t.Run("missing hash", func(t *testing.T) {
		d := valid()
		d.Hash = ""
		assert.Error(t, ValidateDocument(d))
	})

	t.Run("invalid type", func(t *testing.T) {
		d := valid()
		d.Type = DocumentType("spreadsheet")
		assert.Error(t, ValidateDocument(d))
	})
}

func TestDocumentTypeForExtension(t *testing.T) {
	tests := []struct {
		ext      string
		expected DocumentType
	}{
		{"md", DocumentTypeMarkdown},
		{"markdown", DocumentTypeMarkdown},
		{"go", DocumentTypeCode},
		{"py", DocumentTypeCode},
		{"sql", DocumentTypeCode},
		{"txt", DocumentTypeText},
		{"", DocumentTypeText},
		{"csv", DocumentTypeText},
	}

	for _, tt := range tests {
		t.Run("ext "+tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.expected, DocumentTypeForExtension(tt.ext))
		})
	}
}

package service

import (
	"strings"

	"github.com/loomchat/loom-memory/internal/domain"
)

// ChunkConfig controls chunking for document embeddings.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1200,
		MinChars:  400,
		MaxChunks: 200,
	}
}

// chunkPiece is one chunk of a document before embedding, with the
// section heading and 1-based line range it came from.
type chunkPiece struct {
	Content   string
	Section   string
	StartLine int
	EndLine   int
}

// chunkDocument splits document content by type: markdown by section
// boundaries, code by structural boundaries, plain text by fixed windows.
// Oversized sections and blocks fall through to window splitting.
func chunkDocument(content string, docType domain.DocumentType, cfg ChunkConfig) []chunkPiece {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}

	lines := strings.Split(content, "\n")

	var pieces []chunkPiece
	switch docType {
	case domain.DocumentTypeMarkdown:
		pieces = chunkMarkdown(lines, cfg)
	case domain.DocumentTypeCode:
		pieces = chunkBlocks(lines, cfg, isCodeBoundary)
	default:
		pieces = chunkBlocks(lines, cfg, isBlankLine)
	}

	if cfg.MaxChunks > 0 && len(pieces) > cfg.MaxChunks {
		pieces = pieces[:cfg.MaxChunks]
	}
	return pieces
}

// chunkMarkdown groups lines under their nearest heading. Each section
// becomes one chunk; sections past MaxChars are window-split, keeping the
// section title on every resulting chunk.
func chunkMarkdown(lines []string, cfg ChunkConfig) []chunkPiece {
	var pieces []chunkPiece

	section := ""
	start := 0
	var buf []string

	flush := func(end int) {
		pieces = append(pieces, splitWindow(buf, section, start, cfg)...)
		buf = nil
		start = end
	}

	for i, line := range lines {
		if heading := markdownHeading(line); heading != "" {
			if len(buf) > 0 {
				flush(i)
			}
			section = heading
			start = i
		}
		buf = append(buf, line)
	}
	if len(buf) > 0 {
		flush(len(lines))
	}
	return pieces
}

// chunkBlocks accumulates lines into chunks, preferring to break at
// structural boundaries, falling back to the char budget.
func chunkBlocks(lines []string, cfg ChunkConfig, boundary func(string) bool) []chunkPiece {
	var pieces []chunkPiece

	start := 0
	size := 0
	var buf []string

	flush := func(end int) {
		pieces = append(pieces, splitWindow(buf, "", start, cfg)...)
		buf = nil
		size = 0
		start = end
	}

	for i, line := range lines {
		if size >= cfg.MinChars && boundary(line) {
			flush(i)
		}
		buf = append(buf, line)
		size += len(line) + 1
		if size >= cfg.MaxChars {
			flush(i + 1)
		}
	}
	if len(buf) > 0 {
		flush(len(lines))
	}
	return pieces
}

// splitWindow turns a run of lines into one or more chunks within the char
// budget, recording 1-based line ranges.
func splitWindow(lines []string, section string, startLine int, cfg ChunkConfig) []chunkPiece {
	var pieces []chunkPiece

	winStart := 0
	size := 0
	for i, line := range lines {
		size += len(line) + 1
		if size < cfg.MaxChars && i != len(lines)-1 {
			continue
		}
		content := strings.TrimSpace(strings.Join(lines[winStart:i+1], "\n"))
		if content != "" {
			pieces = append(pieces, chunkPiece{
				Content:   content,
				Section:   section,
				StartLine: startLine + winStart + 1,
				EndLine:   startLine + i + 1,
			})
		}
		winStart = i + 1
		size = 0
	}
	return pieces
}

func markdownHeading(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return ""
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return ""
	}
	return strings.TrimSpace(trimmed[level:])
}

func isBlankLine(line string) bool {
	return strings.TrimSpace(line) == ""
}

// isCodeBoundary reports a top-level declaration or a blank line, the
// places code splits cleanly.
func isCodeBoundary(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	for _, kw := range []string{"func ", "class ", "def ", "type ", "function ", "const ", "var ", "public ", "private "} {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return false
}

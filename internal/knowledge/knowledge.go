// Package knowledge stores knowledge-base uploads and their extracted text.
package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType is returned for files whose text cannot be extracted.
	ErrUnsupportedType = errors.New("unsupported knowledge base file type")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("knowledge base file too large")
	// ErrNotFound is returned for an unknown reference.
	ErrNotFound = errors.New("knowledge base file not found")
)

const textFile = "text.txt"

var textExtensions = map[string]bool{".txt": true, ".md": true, ".csv": true}

// Document describes a stored upload.
type Document struct {
	Ref       string `json:"ref"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	TextBytes int    `json:"text_bytes"`
}

// Store keeps uploads on local disk under one directory per reference.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the storage directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge base directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save stores an upload and its extracted text and returns a new reference.
func (s *Store) Save(filename string, r io.Reader) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" && !textExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	ref := uuid.New().String()
	docDir := filepath.Join(s.dir, ref)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	srcPath := filepath.Join(docDir, "source"+ext)
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	var text string
	if ext == ".pdf" {
		text, err = extractPDF(srcPath)
	} else {
		text, err = extractText(data)
	}
	if err != nil {
		if rmErr := os.RemoveAll(docDir); rmErr != nil {
			slog.Warn("failed to remove rejected upload", "ref", ref, "error", rmErr)
		}
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(docDir, textFile), []byte(text), 0o600); err != nil {
		return nil, fmt.Errorf("write extracted text: %w", err)
	}

	slog.Info("Knowledge base file stored", "ref", ref, "filename", filename, "bytes", len(data))
	return &Document{Ref: ref, Filename: filename, Size: int64(len(data)), TextBytes: len(text)}, nil
}

// Text returns the extracted text for ref.
func (s *Store) Text(ref string) (string, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref, textFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return string(data), nil
}

// Prune removes documents last written before cutoff unless their reference
// is in keep. It returns how many were removed.
func (s *Store) Prune(cutoff time.Time, keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read knowledge base directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		ref := e.Name()
		if !e.IsDir() || keep[ref] {
			continue
		}
		if _, err := uuid.Parse(ref); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.Warn("failed to stat knowledge base document", "ref", ref, "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, ref)); err != nil {
			return removed, fmt.Errorf("remove document %s: %w", ref, err)
		}
		removed++
	}
	return removed, nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
	}
	return strings.TrimSpace(string(data)), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrUnsupportedType, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrUnsupportedType, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

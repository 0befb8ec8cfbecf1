package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// Storage serves clinical documents from a directory. Document <id> is read
// from <id>.txt; an optional <id>.meta.yaml sidecar carries its metadata.
type Storage struct {
	basePath string
}

type sidecar struct {
	Filename     string `yaml:"filename"`
	DocumentType string `yaml:"document_type"`
	PatientID    string `yaml:"patient_id"`
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/documents"
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("stat documents dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents path %s is not a directory", basePath)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) GetDocument(_ context.Context, id string) (*domain.ClinicalDocument, error) {
	if !validID(id) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", fmt.Errorf("invalid document id %q", id))
	}

	raw, err := os.ReadFile(filepath.Join(s.basePath, id+".txt"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", fmt.Errorf("document %s is not utf-8 text", id))
	}

	doc := &domain.ClinicalDocument{
		ID:       id,
		Filename: id + ".txt",
		Content:  strings.TrimSpace(string(raw)),
	}
	meta, err := s.readSidecar(id)
	if err != nil {
		return nil, err
	}
	if meta.Filename != "" {
		doc.Filename = meta.Filename
	}
	doc.DocumentType = meta.DocumentType
	doc.PatientID = meta.PatientID
	return doc, nil
}

func (s *Storage) readSidecar(id string) (sidecar, error) {
	raw, err := os.ReadFile(filepath.Join(s.basePath, id+".meta.yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return sidecar{}, nil
	}
	if err != nil {
		return sidecar{}, fmt.Errorf("read document metadata: %w", err)
	}
	var meta sidecar
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode document metadata %s: %w", id, err)
	}
	return meta, nil
}

// validID keeps lookups inside basePath.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

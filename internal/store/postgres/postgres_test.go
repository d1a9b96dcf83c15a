package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/typeid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("EDITOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EDITOR_TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSaveAppendsVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	docID := typeid.NewDocumentID()

	if _, err := s.Load(ctx, docID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, doc := range []string{`{"v":1}`, `{"v":2}`} {
		if err := s.Save(ctx, docID, []byte(doc)); err != nil {
			t.Fatal(err)
		}
	}

	v, err := s.Version(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
	data, err := s.Load(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v": 2}` && string(data) != `{"v":2}` {
		t.Errorf("expected latest document, got %s", data)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(errors.New("boom")) || isUniqueViolation(nil) {
		t.Error("plain errors are not unique violations")
	}
}

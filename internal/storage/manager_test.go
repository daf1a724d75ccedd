// manager_test.go - Tests for dump storage
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "dumps")

		if _, err := NewLocalStore(uploadDir); err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})

	t.Run("indexes existing dumps", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		info, err := first.Save("Posts.xml.gz", strings.NewReader("compressed"))
		if err != nil {
			t.Fatalf("Failed to save dump: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		second, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("Failed to reopen store: %v", err)
		}
		got, err := second.Get(info.ID)
		if err != nil {
			t.Fatalf("Expected dump to be indexed: %v", err)
		}
		if got.Name != "Posts.xml.gz" || got.Size != int64(len("compressed")) || got.Compression != "gzip" {
			t.Errorf("Unexpected info after rescan: %+v", got)
		}
		list, _ := second.List(0)
		if len(list) != 1 {
			t.Errorf("Expected 1 dump, got %d", len(list))
		}
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves dump from reader", func(t *testing.T) {
		store := createTestStore(t)
		content := `<row Id="1" />`

		info, err := store.Save("Posts.xml", strings.NewReader(content))
		if err != nil {
			t.Fatalf("Failed to save dump: %v", err)
		}
		if info.ID == "" {
			t.Error("Expected ID to be set")
		}
		if info.Name != "Posts.xml" {
			t.Errorf("Expected name 'Posts.xml', got %v", info.Name)
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}
		if info.Compression != "" {
			t.Errorf("Expected no compression, got %q", info.Compression)
		}

		path, err := store.GetFilePath(info.ID)
		if err != nil {
			t.Fatalf("Failed to get path: %v", err)
		}
		if !strings.HasSuffix(path, "_Posts.xml") {
			t.Errorf("Expected path to keep the dump name, got %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read saved dump: %v", err)
		}
		if string(data) != content {
			t.Errorf("Expected content %q, got %q", content, string(data))
		}
	})

	t.Run("strips directories from name", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.Save("../../etc/Posts.xml.zst", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Failed to save dump: %v", err)
		}
		if info.Name != "Posts.xml.zst" {
			t.Errorf("Expected cleaned name, got %q", info.Name)
		}
		if info.Compression != "zstd" {
			t.Errorf("Expected zstd, got %q", info.Compression)
		}
		path, _ := store.GetFilePath(info.ID)
		if filepath.Dir(path) != store.uploadDir {
			t.Errorf("Expected dump inside upload dir, got %s", path)
		}
	})
}

func TestLocalStore_NotFound(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetFilePath("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFilePath: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_ListAndDelete(t *testing.T) {
	store := createTestStore(t)

	var ids []string
	for _, name := range []string{"a.xml", "b.xml", "c.xml"} {
		info, err := store.Save(name, strings.NewReader(name))
		if err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}
		ids = append(ids, info.ID)
	}

	list, err := store.List(2)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 dumps, got %d", len(list))
	}

	path, _ := store.GetFilePath(ids[0])
	if err := store.Delete(ids[0]); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
	list, _ = store.List(0)
	if len(list) != 2 {
		t.Errorf("Expected 2 dumps after delete, got %d", len(list))
	}
}

func TestLocalStore_ChunkedUpload(t *testing.T) {
	t.Run("assembles chunks in order", func(t *testing.T) {
		store := createTestStore(t)
		chunks := []string{`<posts>` + "\n", `  <row Id="1" />` + "\n", `</posts>` + "\n"}

		// Upload out of order
		for _, i := range []int{2, 0, 1} {
			if err := store.SaveChunk("up-1", i, strings.NewReader(chunks[i])); err != nil {
				t.Fatalf("Failed to save chunk %d: %v", i, err)
			}
		}

		info, err := store.CompleteChunkedUpload("up-1", "Posts.xml", len(chunks))
		if err != nil {
			t.Fatalf("Failed to complete upload: %v", err)
		}
		want := strings.Join(chunks, "")
		if info.Size != int64(len(want)) {
			t.Errorf("Expected size %d, got %d", len(want), info.Size)
		}

		path, _ := store.GetFilePath(info.ID)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read assembled dump: %v", err)
		}
		if string(data) != want {
			t.Errorf("Expected %q, got %q", want, string(data))
		}
		if _, err := os.Stat(filepath.Join(store.uploadDir, "chunks", "up-1")); !os.IsNotExist(err) {
			t.Error("Expected chunk directory to be removed")
		}
	})

	t.Run("missing chunk fails", func(t *testing.T) {
		store := createTestStore(t)
		if err := store.SaveChunk("up-2", 0, strings.NewReader("a")); err != nil {
			t.Fatal(err)
		}

		if _, err := store.CompleteChunkedUpload("up-2", "Posts.xml", 2); err == nil {
			t.Error("Expected error for missing chunk")
		}
		list, _ := store.List(0)
		if len(list) != 0 {
			t.Errorf("Expected no dumps, got %d", len(list))
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		store := createTestStore(t)
		if err := store.SaveChunk("../escape", 0, strings.NewReader("a")); err == nil {
			t.Error("Expected error for invalid upload id")
		}
		if err := store.SaveChunk("up-3", -1, strings.NewReader("a")); err == nil {
			t.Error("Expected error for negative chunk index")
		}
	})
}

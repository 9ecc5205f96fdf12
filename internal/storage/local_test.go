package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covparse/pkg/config"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreateWithPath", func(t *testing.T) {
		tempDir := t.TempDir()
		basePath := filepath.Join(tempDir, "artifacts")

		store, err := NewLocalStorage(basePath)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(basePath)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("CreateWithEmptyPath", func(t *testing.T) {
		origDir, err := os.Getwd()
		require.NoError(t, err)
		defer os.Chdir(origDir)

		tempDir := t.TempDir()
		os.Chdir(tempDir)

		store, err := NewLocalStorage("")
		require.NoError(t, err)
		require.NotNil(t, store)
		assert.Equal(t, "./storage", store.GetBasePath())
	})
}

func TestLocalStorage_Upload(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("UploadFromReader", func(t *testing.T) {
		content := []byte("test content for upload")
		err := store.Upload(context.Background(), ReportKey("run-1"), bytes.NewReader(content))
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(tempDir, "runs", "run-1", "report.json"))
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("UploadWithCanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Upload(ctx, "canceled.txt", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
	})

	t.Run("UploadTraversalKeyRejected", func(t *testing.T) {
		err := store.Upload(context.Background(), "../escape.txt", bytes.NewReader([]byte("x")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid storage key")
	})
}

func TestLocalStorage_UploadFile(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("UploadLocalFile", func(t *testing.T) {
		srcFile := filepath.Join(tempDir, "source.profraw")
		content := []byte("profile bytes")
		require.NoError(t, os.WriteFile(srcFile, content, 0644))

		err := store.UploadFile(context.Background(), ProfileKey("run-2", srcFile), srcFile)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(tempDir, "runs", "run-2", "profiles", "source.profraw"))
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("UploadNonExistentFile", func(t *testing.T) {
		err := store.UploadFile(context.Background(), "dest.txt", "/nonexistent/path.txt")
		assert.Error(t, err)
	})
}

func TestLocalStorage_Download(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("DownloadExistingFile", func(t *testing.T) {
		content := []byte("download test content")
		require.NoError(t, store.Upload(context.Background(), "download/test.txt", bytes.NewReader(content)))

		reader, err := store.Download(context.Background(), "download/test.txt")
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("DownloadNonExistentFile", func(t *testing.T) {
		_, err := store.Download(context.Background(), "nonexistent.txt")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "file not found")
	})
}

func TestLocalStorage_DownloadFile(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("DownloadToLocalFile", func(t *testing.T) {
		content := []byte("file download content")
		require.NoError(t, store.Upload(context.Background(), "src/data.txt", bytes.NewReader(content)))

		destPath := filepath.Join(tempDir, "local", "output.txt")
		err := store.DownloadFile(context.Background(), "src/data.txt", destPath)
		require.NoError(t, err)

		data, err := os.ReadFile(destPath)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("DownloadNonExistentToFile", func(t *testing.T) {
		destPath := filepath.Join(tempDir, "local", "missing.txt")
		err := store.DownloadFile(context.Background(), "missing.txt", destPath)
		assert.Error(t, err)
	})
}

func TestLocalStorage_Delete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("DeleteExistingFile", func(t *testing.T) {
		require.NoError(t, store.Upload(context.Background(), "delete/test.txt", bytes.NewReader([]byte("x"))))

		err := store.Delete(context.Background(), "delete/test.txt")
		require.NoError(t, err)

		exists, err := store.Exists(context.Background(), "delete/test.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("DeleteNonExistentFile", func(t *testing.T) {
		err := store.Delete(context.Background(), "nonexistent.txt")
		assert.NoError(t, err)
	})
}

func TestLocalStorage_Exists(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	t.Run("FileExists", func(t *testing.T) {
		require.NoError(t, store.Upload(context.Background(), "exists.txt", bytes.NewReader([]byte("x"))))

		exists, err := store.Exists(context.Background(), "exists.txt")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("FileNotExists", func(t *testing.T) {
		exists, err := store.Exists(context.Background(), "notexists.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestLocalStorage_GetURL(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewLocalStorage(tempDir)
	require.NoError(t, err)

	url := store.GetURL("path/to/file.txt")
	assert.Equal(t, filepath.Join(tempDir, "path/to/file.txt"), url)
}

func TestNewStorage(t *testing.T) {
	t.Run("CreateLocalStorage", func(t *testing.T) {
		cfg := &config.StorageConfig{
			Type:      "local",
			LocalPath: t.TempDir(),
		}

		store, err := NewStorage(cfg)
		require.NoError(t, err)
		require.NotNil(t, store)

		_, ok := store.(*LocalStorage)
		assert.True(t, ok)
	})

	t.Run("EmptyTypeDefaultsToLocal", func(t *testing.T) {
		cfg := &config.StorageConfig{
			LocalPath: t.TempDir(),
		}

		store, err := NewStorage(cfg)
		require.NoError(t, err)

		_, ok := store.(*LocalStorage)
		assert.True(t, ok)
	})
}

package reporter

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is the name of the manifest stored in every bundle.
const ManifestFile = "manifest.json"

// BundleManifest describes the contents of an export bundle.
type BundleManifest struct {
	Version     string       `json:"version"`
	ReportID    string       `json:"report_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ToolVersion string       `json:"tool_version"`
	Files       []BundleFile `json:"files"`
}

// BundleFile records one file included in the bundle.
type BundleFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ExportBundle archives the regular files of outputDir into outputDir.zip
// together with a manifest of their SHA-256 digests, and returns the
// archive path.
func ExportBundle(outputDir, reportID, toolVersion string) (string, error) {
	zipPath := filepath.Clean(outputDir) + ".zip"

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	defer w.Close()

	dirBase := filepath.Base(outputDir)
	files := make([]BundleFile, 0, len(entries))

	// ReadDir returns entries sorted by name, so the manifest is stable.
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == ManifestFile {
			continue
		}
		bf, err := addFile(w, dirBase, filepath.Join(outputDir, entry.Name()))
		if err != nil {
			return "", err
		}
		files = append(files, bf)
	}

	manifest := BundleManifest{
		Version:     "1.0",
		ReportID:    reportID,
		CreatedAt:   time.Now().UTC(),
		ToolVersion: toolVersion,
		Files:       files,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	zf, err := w.Create(dirBase + "/" + ManifestFile)
	if err != nil {
		return "", fmt.Errorf("zip create manifest: %w", err)
	}
	if _, err := zf.Write(manifestJSON); err != nil {
		return "", fmt.Errorf("zip write manifest: %w", err)
	}

	// Flush the writer before reporting the archive as complete
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}
	return zipPath, nil
}

// addFile streams path into the archive while hashing it.
func addFile(w *zip.Writer, dirBase, path string) (BundleFile, error) {
	name := filepath.Base(path)
	src, err := os.Open(path)
	if err != nil {
		return BundleFile{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()

	zf, err := w.Create(dirBase + "/" + name)
	if err != nil {
		return BundleFile{}, fmt.Errorf("zip create %s: %w", name, err)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(zf, h), src)
	if err != nil {
		return BundleFile{}, fmt.Errorf("zip write %s: %w", name, err)
	}
	return BundleFile{
		Name:   name,
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   n,
	}, nil
}

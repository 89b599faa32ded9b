package transfer

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/tgvault/tgvault/internal/objectstore"
	"github.com/tgvault/tgvault/internal/types"
)

// Result describes an object placed in backing storage by a transfer.
type Result struct {
	ObjectKey string
	FileName  string
	Size      int64
}

// Pipeline moves bytes from a remote source into object storage. The core
// components only see its results; they never touch the data plane.
type Pipeline struct {
	store   *objectstore.Store
	binPath string
	tempDir string
	client  *http.Client
}

func NewPipeline(store *objectstore.Store, binPath, tempDir string) *Pipeline {
	return &Pipeline{
		store:   store,
		binPath: binPath,
		tempDir: tempDir,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// FetchVideo downloads the confirmed candidate with yt-dlp and stores it.
func (p *Pipeline) FetchVideo(ctx context.Context, sourceURL string, choice types.FormatOption, ownerID int64) (*Result, error) {
	tmpDir, err := os.MkdirTemp(p.tempDir, "tgvault-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cmd := execute.ExecTask{
		Command: p.binPath,
		Args: []string{
			"-f", choice.Key,
			"-o", filepath.Join(tmpDir, "%(title)s.%(ext)s"),
			"--no-warnings",
			sourceURL,
		},
	}

	res, err := cmd.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("download failed: %s", strings.TrimSpace(res.Stderr))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("download produced no file")
	}
	fileName := entries[0].Name()
	filePath := filepath.Join(tmpDir, fileName)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening downloaded file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat downloaded file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, size, err := p.store.Put(ctx, f, info.Size(), ownerID, fileName, contentType)
	if err != nil {
		return nil, err
	}

	return &Result{ObjectKey: key, FileName: fileName, Size: size}, nil
}

// FetchURL streams a plain HTTP download (e.g. a platform file link) into
// storage without spooling to disk.
func (p *Pipeline) FetchURL(ctx context.Context, fileURL, fileName string, ownerID int64) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building file request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching file: unexpected status %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, size, err := p.store.Put(ctx, resp.Body, resp.ContentLength, ownerID, fileName, contentType)
	if err != nil {
		return nil, err
	}

	return &Result{ObjectKey: key, FileName: fileName, Size: size}, nil
}

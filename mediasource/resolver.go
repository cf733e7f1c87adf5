// Package mediasource turns configured media locations into local files ready for upload.
package mediasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bitrise-io/go-media-upload/blob"
	"github.com/bitrise-io/go-media-upload/internal"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/melbahja/got"
)

// ErrNotFound is returned for a local media file that does not exist.
var ErrNotFound = errors.New("media file not found")

// Media is a local, readable, non-empty media file.
type Media struct {
	Name string
	Path string
	Size int64
	// Downloaded is set when Path is a temporary copy of a remote file.
	Downloaded bool
}

// Resolver locates media files. Locations can be plain paths (with ~ and env vars expanded),
// file:// URLs, or http(s) URLs which are downloaded into a temporary directory.
type Resolver struct {
	osProxy      internal.OsProxy
	pathModifier pathutil.PathModifier
	pathProvider pathutil.PathProvider
	httpClient   *http.Client
	logger       log.Logger

	mu      sync.Mutex
	tempDir string
}

// NewResolver ...
func NewResolver(httpClient *http.Client, logger log.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		osProxy:      internal.RealOS{},
		pathModifier: pathutil.NewPathModifier(),
		pathProvider: pathutil.NewPathProvider(),
		httpClient:   httpClient,
		logger:       logger,
	}
}

// Resolve validates location and returns the local file behind it.
// A missing, directory or zero-byte file is an error.
func (r *Resolver) Resolve(ctx context.Context, name, location string) (Media, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Media{}, fmt.Errorf("%s: no location configured", name)
	}

	localPath, downloaded, err := r.localPath(ctx, name, location)
	if err != nil {
		return Media{}, err
	}

	info, err := r.osProxy.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Media{}, fmt.Errorf("%s: %s: %w", name, localPath, ErrNotFound)
		}
		return Media{}, fmt.Errorf("%s: %w", name, err)
	}
	if info.IsDir() {
		return Media{}, fmt.Errorf("%s: %s is a directory", name, localPath)
	}
	if info.Size() == 0 {
		return Media{}, fmt.Errorf("%s: %s: %w", name, localPath, blob.ErrEmptyFile)
	}

	r.logger.Printf("%s: %s (%s)", name, localPath, units.BytesSize(float64(info.Size())))

	return Media{
		Name:       name,
		Path:       localPath,
		Size:       info.Size(),
		Downloaded: downloaded,
	}, nil
}

// Open opens the media file for reading.
func (r *Resolver) Open(m Media) (*os.File, error) {
	return r.osProxy.Open(m.Path)
}

// Cleanup removes downloaded copies.
func (r *Resolver) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tempDir == "" {
		return nil
	}
	err := r.osProxy.RemoveAll(r.tempDir)
	r.tempDir = ""
	return err
}

func (r *Resolver) localPath(ctx context.Context, name, location string) (string, bool, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Not a URL, or a Windows drive letter.
		p, err := r.pathModifier.AbsPath(location)
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", name, err)
		}
		return p, false, nil
	}

	switch u.Scheme {
	case "file":
		p, err := r.osProxy.Abs(filepath.FromSlash(u.Path))
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", name, err)
		}
		return p, false, nil
	case "http", "https":
		p, err := r.download(ctx, name, u)
		if err != nil {
			return "", false, err
		}
		return p, true, nil
	default:
		return "", false, fmt.Errorf("%s: unsupported location scheme: %s", name, u.Scheme)
	}
}

func (r *Resolver) download(ctx context.Context, name string, u *url.URL) (string, error) {
	dir, err := r.downloadDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." {
		base = "media"
	}
	dest := filepath.Join(dir, name+"-"+base)

	r.logger.Printf("Downloading %s from %s", name, u.Redacted())

	downloader := got.New()
	downloader.Client = r.httpClient
	if err := downloader.Do(got.NewDownload(ctx, u.String(), dest)); err != nil {
		return "", fmt.Errorf("%s: download failed: %w", name, err)
	}
	return dest, nil
}

func (r *Resolver) downloadDir() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tempDir != "" {
		return r.tempDir, nil
	}
	dir, err := r.pathProvider.CreateTempDir("media-upload")
	if err != nil {
		return "", err
	}
	r.tempDir = dir
	return dir, nil
}

// Package files is the file provider used by the bundle reader: it opens a
// bundle file and produces independent duplicate handles for the parser and
// for body reads.
package files

import (
	"io"
	"os"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/afero"
)

var log = logger.GetGoI2PLogger()

// File is a read-only, random-access bundle file handle.
// Implementations must allow concurrent ReadAt calls.
type File interface {
	io.ReaderAt
	io.Closer
	Name() string
	Stat() (os.FileInfo, error)
}

// Provider opens bundle files and duplicates open handles.
type Provider interface {
	// Open opens the file at path for reading.
	Open(path string) (File, error)
	// Duplicate returns a new handle to the same file as f. Closing one
	// handle never affects the other.
	Duplicate(f File) (File, error)
}

// AferoProvider implements Provider on top of an afero filesystem.
type AferoProvider struct {
	fs afero.Fs
}

// NewOsProvider returns a Provider backed by the operating system filesystem.
func NewOsProvider() *AferoProvider {
	return NewAferoProvider(afero.NewOsFs())
}

// NewAferoProvider returns a Provider backed by fs. Passing
// afero.NewMemMapFs() is convenient for tests.
func NewAferoProvider(fs afero.Fs) *AferoProvider {
	return &AferoProvider{fs: afero.NewReadOnlyFs(fs)}
}

// Open implements Provider.
func (p *AferoProvider) Open(path string) (File, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "(AferoProvider) Open",
			"path": path,
		}).Debug("failed to open bundle file")
		return nil, oops.Wrapf(err, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, oops.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		f.Close()
		return nil, oops.Errorf("open %s: is a directory", path)
	}
	return f, nil
}

// Duplicate implements Provider by opening the same path again.
func (p *AferoProvider) Duplicate(f File) (File, error) {
	if f == nil {
		return nil, oops.Errorf("cannot duplicate a nil file")
	}
	dup, err := p.fs.Open(f.Name())
	if err != nil {
		return nil, oops.Wrapf(err, "duplicate %s", f.Name())
	}
	return dup, nil
}

// Size returns the size of f in bytes.
func Size(f File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, oops.Wrapf(err, "stat %s", f.Name())
	}
	return info.Size(), nil
}

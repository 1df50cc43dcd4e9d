package builder

import (
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// AddDirectory adds every regular file below root as a 200 response under
// origin. The path of the file relative to root becomes the URL path.
// index.html files are also served for their directory URL.
func (b *Builder) AddDirectory(fs afero.Fs, root string, origin *url.URL) error {
	return afero.Walk(fs, root, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return oops.Wrapf(err, "relative path of %s", name)
		}
		body, err := afero.ReadFile(fs, name)
		if err != nil {
			return oops.Wrapf(err, "read %s", name)
		}
		urlPath := "/" + filepath.ToSlash(rel)
		headers := map[string]string{"content-type": contentType(urlPath)}
		b.AddResponse(origin.ResolveReference(&url.URL{Path: urlPath}).String(), 200, headers, body)
		if path.Base(urlPath) == "index.html" {
			dir := path.Dir(urlPath)
			if dir != "/" {
				dir += "/"
			}
			b.AddResponse(origin.ResolveReference(&url.URL{Path: dir}).String(), 200, headers, body)
		}
		return b.err
	})
}

func contentType(urlPath string) string {
	if t := mime.TypeByExtension(path.Ext(urlPath)); t != "" {
		return t
	}
	return "application/octet-stream"
}

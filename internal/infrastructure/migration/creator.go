package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// versionLayout sorts lexically in time order and fits golang-migrate's uint version
const versionLayout = "20060102150405"

var fileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// File is one versioned schema change in the migrations directory
type File struct {
	Version uint
	Name    string
	HasDown bool
}

// Base is the file name without direction and extension
func (f File) Base() string {
	return fmt.Sprintf("%d_%s", f.Version, f.Name)
}

// Catalog lists the schema changes in dir by version. A missing directory is empty.
// Files not named <version>_<name>.(up|down).sql are ignored.
func Catalog(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[uint]*File)
	for _, e := range entries {
		m := fileName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		f, ok := byVersion[uint(v)]
		if !ok {
			f = &File{Version: uint(v), Name: m[2]}
			byVersion[uint(v)] = f
		}
		if m[3] == "down" {
			f.HasDown = true
		}
	}

	files := make([]File, 0, len(byVersion))
	for _, f := range byVersion {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// Pending returns the files newer than the applied version
func Pending(files []File, applied uint) []File {
	i := sort.Search(len(files), func(i int) bool { return files[i].Version > applied })
	return files[i:]
}

var scaffold = template.Must(template.New("scaffold").Parse(`-- {{.Base}} ({{.Direction}})
-- {{.Summary}}
{{- if eq .Direction "up"}}
--
-- Tenant tables need tenant_id UUID NOT NULL, and every lookup index leads with it.
-- Columns must match the gorm tags of the matching model under internal/domain.
{{- end}}

`))

// Scaffold writes an empty up/down pair for a new schema change versioned at now
func Scaffold(dir, title, summary string, now time.Time) (File, error) {
	name := slug(title)
	if name == "" {
		return File{}, fmt.Errorf("migration title %q has no usable characters", title)
	}
	v, err := strconv.ParseUint(now.UTC().Format(versionLayout), 10, 64)
	if err != nil {
		return File{}, err
	}
	f := File{Version: uint(v), Name: name, HasDown: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return File{}, fmt.Errorf("create migrations directory: %w", err)
	}
	var written []string
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, f.Base()+"."+direction+".sql")
		if err := writeScaffold(path, f, direction, summary); err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return File{}, err
		}
		written = append(written, path)
	}
	return f, nil
}

func writeScaffold(path string, f File, direction, summary string) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer out.Close()
	return scaffold.Execute(out, map[string]string{
		"Base":      f.Base(),
		"Direction": direction,
		"Summary":   summary,
	})
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases title and joins its alphanumeric runs with underscores
func slug(title string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "_"), "_")
}

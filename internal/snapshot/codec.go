// Package snapshot serializes a package to a directory of JSON files and
// back, so that exports can be versioned by external tools.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

var (
	// ErrOutsideRoot is returned for import directories outside the export root.
	ErrOutsideRoot = errors.New("directory outside export root")
	// ErrPackageMismatch is returned when an export holds another package.
	ErrPackageMismatch = errors.New("export holds a different package")
)

// Committer records an export directory in version control. It returns an
// empty revision when there was nothing to record.
type Committer interface {
	Commit(ctx context.Context, dir, message string) (string, error)
}

// Status reports whether a package changed since its last export.
type Status struct {
	HasLocalChanges bool       `json:"hasLocalChanges"`
	LastExportedAt  *time.Time `json:"lastExportedAt,omitempty"`
	ExportPath      string     `json:"exportPath,omitempty"`
}

// Exported describes a finished export.
type Exported struct {
	Dir       string   `json:"dir"`
	Files     []string `json:"files"`
	Revision  string   `json:"revision,omitempty"`
	Published int      `json:"published"`
}

// Codec reads and writes package exports below a root directory.
type Codec struct {
	store     domain.PersistentStore
	fs        afero.Fs
	root      string
	now       func() time.Time
	committer Committer
	publisher *Publisher
	schemas   map[metamodel.ElementType]domain.PropertySchema
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCommitter commits every export.
func WithCommitter(committer Committer) Option {
	return func(c *Codec) { c.committer = committer }
}

// WithSchemas coerces imported element properties through the schema of
// their element type, restoring date, enum and number kinds that the JSON
// files store as strings.
func WithSchemas(schemas ...domain.PropertySchema) Option {
	return func(c *Codec) {
		if c.schemas == nil {
			c.schemas = make(map[metamodel.ElementType]domain.PropertySchema, len(schemas))
		}
		for _, schema := range schemas {
			c.schemas[schema.ElementType] = schema
		}
	}
}

// WithPublisher mirrors every export to an object store.
func WithPublisher(p *Publisher) Option {
	return func(c *Codec) { c.publisher = p }
}

// NewCodec returns a codec writing below root on fsys. A nil fsys uses the
// operating system filesystem.
func NewCodec(store domain.PersistentStore, fsys afero.Fs, root string, opts ...Option) *Codec {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if root == "" {
		root = "exports"
	}
	c := &Codec{store: store, fs: fsys, root: root, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the export root directory.
func (c *Codec) Root() string { return c.root }

// Dir returns the export directory of a package.
func (c *Codec) Dir(packageID string) string { return path.Join(c.root, packageID) }

// Export writes the package to its export directory and removes files left
// over from a previous export.
func (c *Codec) Export(ctx context.Context, packageID string) (Exported, error) {
	if err := domain.ValidateID(packageID); err != nil {
		return Exported{}, fmt.Errorf("export: %w", err)
	}
	var contents domain.PackageContents
	err := c.store.View(ctx, func(view domain.TransactionView) error {
		var ok bool
		contents, ok = domain.LoadContents(view, packageID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: packageID}
		}
		return nil
	})
	if err != nil {
		return Exported{}, fmt.Errorf("export %s: %w", packageID, err)
	}
	files, err := render(contents, c.now())
	if err != nil {
		return Exported{}, fmt.Errorf("export %s: %w", packageID, err)
	}
	dir := c.Dir(packageID)
	if err := c.write(dir, files); err != nil {
		return Exported{}, fmt.Errorf("export %s: %w", packageID, err)
	}
	out := Exported{Dir: dir, Files: sortedKeys(files)}
	if c.committer != nil {
		rev, err := c.committer.Commit(ctx, dir, fmt.Sprintf("Export %s (%s)", contents.Package.Name, packageID))
		if err != nil {
			return Exported{}, fmt.Errorf("commit export %s: %w", packageID, err)
		}
		out.Revision = rev
	}
	if c.publisher != nil {
		n, err := c.publisher.Publish(ctx, packageID, files)
		if err != nil {
			return Exported{}, fmt.Errorf("publish export %s: %w", packageID, err)
		}
		out.Published = n
	}
	return out, nil
}

// render produces the export files keyed by path relative to the package
// directory.
func render(contents domain.PackageContents, exportedAt time.Time) (map[string][]byte, error) {
	doc := documentFrom(contents, exportedAt)
	files := make(map[string][]byte)
	put := func(name string, v any) error {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		files[name] = append(b, '\n')
		return nil
	}
	if err := put(PackageFile, doc); err != nil {
		return nil, err
	}
	for _, e := range doc.Elements {
		if err := domain.ValidateID(e.ID); err != nil {
			return nil, fmt.Errorf("element: %w", err)
		}
		if err := put(path.Join(ElementsDir, e.ID+".json"), e); err != nil {
			return nil, err
		}
	}
	for _, v := range doc.Views {
		if err := domain.ValidateID(v.ID); err != nil {
			return nil, fmt.Errorf("view: %w", err)
		}
		if err := put(path.Join(ViewsDir, v.ID+".json"), v); err != nil {
			return nil, err
		}
	}
	if len(doc.Relations) > 0 {
		if err := put(RelationsFile, doc.Relations); err != nil {
			return nil, err
		}
	}
	if len(doc.Folders) > 0 {
		if err := put(FoldersFile, doc.Folders); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func (c *Codec) write(dir string, files map[string][]byte) error {
	for _, sub := range []string{ElementsDir, ViewsDir} {
		if err := c.fs.MkdirAll(path.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(files) {
		if err := afero.WriteFile(c.fs, path.Join(dir, name), files[name], 0o644); err != nil {
			return err
		}
	}
	return c.removeStale(dir, files)
}

func (c *Codec) removeStale(dir string, files map[string][]byte) error {
	for _, name := range []string{RelationsFile, FoldersFile} {
		if _, keep := files[name]; keep {
			continue
		}
		if err := c.fs.Remove(path.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	for _, sub := range []string{ElementsDir, ViewsDir} {
		entries, err := afero.ReadDir(c.fs, path.Join(dir, sub))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			name := path.Join(sub, entry.Name())
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			if _, keep := files[name]; keep {
				continue
			}
			if err := c.fs.Remove(path.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Import reads dir/package.json and upserts the package, its folders,
// elements, relations and views, in that order, in one transaction. dir must
// lie below the export root. A view that already exists keeps its lock.
func (c *Codec) Import(ctx context.Context, dir string) (string, error) {
	return c.importDir(ctx, dir, "")
}

// ImportPackage imports the export of packageID from dir, or from the
// package's own export directory when dir is empty. The export must hold
// packageID.
func (c *Codec) ImportPackage(ctx context.Context, packageID, dir string) (string, error) {
	if err := domain.ValidateID(packageID); err != nil {
		return "", fmt.Errorf("import: %w", err)
	}
	if dir == "" {
		dir = c.Dir(packageID)
	}
	return c.importDir(ctx, dir, packageID)
}

func (c *Codec) importDir(ctx context.Context, dir, want string) (string, error) {
	dir, err := c.confine(dir)
	if err != nil {
		return "", fmt.Errorf("import: %w", err)
	}
	doc, err := c.readDocument(dir)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", dir, err)
	}
	if want != "" && doc.ID != want {
		return "", fmt.Errorf("import %s: %w: %s", dir, ErrPackageMismatch, doc.ID)
	}
	_, err = c.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpsertPackage(domain.Package{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.UpdatedAt,
		}); err != nil {
			return err
		}
		for _, f := range doc.Folders {
			f.PackageID = doc.ID
			if _, err := tx.UpsertFolder(f); err != nil {
				return err
			}
		}
		for _, e := range doc.Elements {
			e.PackageID = doc.ID
			if schema, ok := c.schemas[e.Type]; ok {
				props, err := schema.Validate(e.Properties)
				if err != nil {
					return fmt.Errorf("element %s: %w", e.ID, err)
				}
				e.Properties = props
			}
			if _, err := tx.UpsertElement(e); err != nil {
				return err
			}
		}
		for _, r := range doc.Relations {
			r.PackageID = doc.ID
			if _, err := tx.UpsertRelation(r); err != nil {
				return err
			}
		}
		for _, rec := range doc.Views {
			v := rec.view()
			v.PackageID = doc.ID
			if existing, ok := tx.FindView(v.ID); ok {
				v.LockedBy = existing.LockedBy
				v.LockedAt = existing.LockedAt
				v.LockMessage = existing.LockMessage
			}
			if _, err := tx.UpsertView(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("import %s: %w", dir, err)
	}
	return doc.ID, nil
}

// SyncStatus compares the package's last update with the timestamp of its
// export. A missing or unreadable export counts as local changes.
func (c *Codec) SyncStatus(_ context.Context, packageID string) (Status, error) {
	if err := domain.ValidateID(packageID); err != nil {
		return Status{}, err
	}
	pkg, ok := c.store.GetPackage(packageID)
	if !ok {
		return Status{}, domain.ErrNotFound{Entity: domain.EntityPackage, ID: packageID}
	}
	dir := c.Dir(packageID)
	doc, err := c.readDocument(dir)
	if err != nil {
		return Status{HasLocalChanges: true}, nil
	}
	exportedAt := doc.ExportedAt
	return Status{
		HasLocalChanges: pkg.UpdatedAt.After(exportedAt),
		LastExportedAt:  &exportedAt,
		ExportPath:      dir,
	}, nil
}

// confine cleans dir and checks that it lies below the export root.
func (c *Codec) confine(dir string) (string, error) {
	root, d := path.Clean(c.root), path.Clean(dir)
	switch {
	case root == ".":
		if !path.IsAbs(d) && d != ".." && !strings.HasPrefix(d, "../") {
			return d, nil
		}
	case root == "/":
		if path.IsAbs(d) {
			return d, nil
		}
	case d == root || strings.HasPrefix(d, root+"/"):
		return d, nil
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
}

func (c *Codec) readDocument(dir string) (Document, error) {
	b, err := afero.ReadFile(c.fs, path.Join(dir, PackageFile))
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", PackageFile, err)
	}
	if doc.ID == "" {
		return Document{}, fmt.Errorf("%s has no package id", PackageFile)
	}
	return doc, nil
}

func sortedKeys(files map[string][]byte) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

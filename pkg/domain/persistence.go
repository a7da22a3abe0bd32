package domain

import "context"

// PackageContents is a package together with every entity it owns.
type PackageContents struct {
	Package   Package    `json:"package"`
	Folders   []Folder   `json:"folders"`
	Elements  []Element  `json:"elements"`
	Relations []Relation `json:"relations"`
	Views     []View     `json:"views"`
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView

	CreatePackage(Package) (Package, error)
	UpdatePackage(id string, mutator func(*Package) error) (Package, error)
	UpsertPackage(Package) (Package, error)
	DeletePackage(id string) error

	CreateFolder(Folder) (Folder, error)
	UpdateFolder(id string, mutator func(*Folder) error) (Folder, error)
	UpsertFolder(Folder) (Folder, error)
	DeleteFolder(id string) error

	CreateElement(Element) (Element, error)
	UpdateElement(id string, mutator func(*Element) error) (Element, error)
	UpsertElement(Element) (Element, error)
	DeleteElement(id string) error

	CreateRelation(Relation) (Relation, error)
	UpdateRelation(id string, mutator func(*Relation) error) (Relation, error)
	UpsertRelation(Relation) (Relation, error)
	DeleteRelation(id string) error

	CreateView(View) (View, error)
	UpdateView(id string, mutator func(*View) error) (View, error)
	UpsertView(View) (View, error)
	DeleteView(id string) error

	// SyncPackage reconciles the stored package with contents: every supplied
	// entity is upserted and every stored entity of the package absent from
	// contents is deleted.
	SyncPackage(contents PackageContents) error

	FindPackage(id string) (Package, bool)
	FindFolder(id string) (Folder, bool)
	FindElement(id string) (Element, bool)
	FindRelation(id string) (Relation, bool)
	FindView(id string) (View, bool)
}

// TransactionView provides read-only access to snapshot data. List methods
// filter by package; an empty packageID lists across all packages. Results
// are ordered by identifier.
type TransactionView interface {
	ListPackages() []Package
	FindPackage(id string) (Package, bool)
	ListFolders(packageID string) []Folder
	FindFolder(id string) (Folder, bool)
	ListElements(packageID string) []Element
	FindElement(id string) (Element, bool)
	ListRelations(packageID string) []Relation
	FindRelation(id string) (Relation, bool)
	ListViews(packageID string) []View
	FindView(id string) (View, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPackage(id string) (Package, bool)
	ListPackages() []Package
	GetView(id string) (View, bool)
	LoadPackage(id string) (PackageContents, bool)
}

// LoadContents collects a package and its entities from a read view.
func LoadContents(view TransactionView, packageID string) (PackageContents, bool) {
	pkg, ok := view.FindPackage(packageID)
	if !ok {
		return PackageContents{}, false
	}
	return PackageContents{
		Package:   pkg,
		Folders:   view.ListFolders(packageID),
		Elements:  view.ListElements(packageID),
		Relations: view.ListRelations(packageID),
		Views:     view.ListViews(packageID),
	}, true
}

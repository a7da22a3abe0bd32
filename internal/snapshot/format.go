package snapshot

import (
	"time"

	"archcore/pkg/domain"
)

// FormatVersion is written to every package.json.
const FormatVersion = "1.0.0"

// File names inside a package export directory.
const (
	PackageFile   = "package.json"
	RelationsFile = "relations.json"
	FoldersFile   = "folders.json"
	ElementsDir   = "elements"
	ViewsDir      = "views"
)

// Document is the content of package.json.
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExportedAt  time.Time         `json:"exportedAt"`
	Version     string            `json:"version"`
	Elements    []domain.Element  `json:"elements"`
	Relations   []domain.Relation `json:"relations"`
	Views       []ViewRecord      `json:"views"`
	Folders     []domain.Folder   `json:"folders"`
}

// ViewRecord is the exported form of a view: the layout is split into
// top-level node and edge lists and lock state is omitted.
type ViewRecord struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	PackageID     string              `json:"packageId"`
	FolderID      *string             `json:"folderId,omitempty"`
	Nodes         []domain.VisualNode `json:"nodes"`
	Edges         []domain.VisualEdge `json:"edges"`
	Description   string              `json:"description,omitempty"`
	Documentation string              `json:"documentation,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	ModifiedAt    time.Time           `json:"modifiedAt"`
	Author        string              `json:"author,omitempty"`
}

func recordFromView(v domain.View) ViewRecord {
	layout := v.Layout.Clone()
	return ViewRecord{
		ID:            v.ID,
		Name:          v.Name,
		PackageID:     v.PackageID,
		FolderID:      v.FolderID,
		Nodes:         layout.Nodes,
		Edges:         layout.Edges,
		Description:   v.Description,
		Documentation: v.Documentation,
		CreatedAt:     v.CreatedAt,
		ModifiedAt:    v.ModifiedAt,
		Author:        v.Author,
	}
}

func (r ViewRecord) view() domain.View {
	layout := domain.Layout{Nodes: r.Nodes, Edges: r.Edges}.Clone()
	return domain.View{
		ID:            r.ID,
		Name:          r.Name,
		PackageID:     r.PackageID,
		FolderID:      r.FolderID,
		Layout:        layout,
		Description:   r.Description,
		Documentation: r.Documentation,
		CreatedAt:     r.CreatedAt,
		ModifiedAt:    r.ModifiedAt,
		Author:        r.Author,
	}
}

func documentFrom(contents domain.PackageContents, exportedAt time.Time) Document {
	doc := Document{
		ID:          contents.Package.ID,
		Name:        contents.Package.Name,
		Description: contents.Package.Description,
		CreatedAt:   contents.Package.CreatedAt,
		UpdatedAt:   contents.Package.UpdatedAt,
		ExportedAt:  exportedAt,
		Version:     FormatVersion,
		Elements:    nonNil(contents.Elements),
		Relations:   nonNil(contents.Relations),
		Folders:     nonNil(contents.Folders),
		Views:       make([]ViewRecord, 0, len(contents.Views)),
	}
	for _, v := range contents.Views {
		doc.Views = append(doc.Views, recordFromView(v))
	}
	return doc
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

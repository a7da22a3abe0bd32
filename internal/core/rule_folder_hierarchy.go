package core

import (
	"context"
	"fmt"

	"archcore/pkg/domain"
)

const folderHierarchyRuleName = "folder_hierarchy"

// FolderHierarchyRule keeps each package's folders a forest: parents must be
// folders of the same package and no folder may be its own ancestor. Entities
// may only be filed into folders of their own package.
func FolderHierarchyRule() domain.Rule {
	return folderHierarchyRule{}
}

type folderHierarchyRule struct{}

func (folderHierarchyRule) Name() string { return folderHierarchyRuleName }

func (folderHierarchyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if !written(change) {
			continue
		}
		switch after := change.After.(type) {
		case domain.Folder:
			if msg := checkFolderParent(view, after); msg != "" {
				res.Violations = append(res.Violations, blockViolation(folderHierarchyRuleName, domain.EntityFolder, after.ID, msg))
			}
		case domain.Element:
			res.Violations = appendFiling(res.Violations, view, domain.EntityElement, after.ID, after.PackageID, after.FolderID)
		case domain.Relation:
			res.Violations = appendFiling(res.Violations, view, domain.EntityRelation, after.ID, after.PackageID, after.FolderID)
		case domain.View:
			res.Violations = appendFiling(res.Violations, view, domain.EntityView, after.ID, after.PackageID, after.FolderID)
		}
	}
	return res, nil
}

func checkFolderParent(view domain.RuleView, f domain.Folder) string {
	if f.ParentID == nil {
		return ""
	}
	seen := map[string]struct{}{f.ID: {}}
	cur := *f.ParentID
	for {
		if _, loop := seen[cur]; loop {
			return fmt.Sprintf("folder %s is its own ancestor", f.ID)
		}
		seen[cur] = struct{}{}
		parent, ok := view.FindFolder(cur)
		if !ok {
			return fmt.Sprintf("folder %s references missing parent %s", f.ID, cur)
		}
		if parent.PackageID != f.PackageID {
			return fmt.Sprintf("folder %s parent %s belongs to another package", f.ID, cur)
		}
		if parent.ParentID == nil {
			return ""
		}
		cur = *parent.ParentID
	}
}

func appendFiling(out []domain.Violation, view domain.RuleView, entity domain.EntityType, id, packageID string, folderID *string) []domain.Violation {
	if folderID == nil {
		return out
	}
	folder, ok := view.FindFolder(*folderID)
	switch {
	case !ok:
		return append(out, blockViolation(folderHierarchyRuleName, entity, id,
			fmt.Sprintf("%s %s filed in missing folder %s", entity, id, *folderID)))
	case folder.PackageID != packageID:
		return append(out, blockViolation(folderHierarchyRuleName, entity, id,
			fmt.Sprintf("%s %s filed in folder %s of another package", entity, id, *folderID)))
	}
	return out
}

package core

import (
	"context"
	"fmt"
	"sort"

	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

const relationIntegrityRuleName = "relation_integrity"

// RelationIntegrityRule checks every relation touched by a transaction, either
// directly or through a change to one of its endpoint elements. Missing
// endpoints and connections the metamodel forbids block the transaction;
// endpoints living in another package only warn.
func RelationIntegrityRule() domain.Rule {
	return relationIntegrityRule{}
}

type relationIntegrityRule struct{}

func (relationIntegrityRule) Name() string { return relationIntegrityRuleName }

func (relationIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	pending := make(map[string]struct{})
	touchedPackages := make(map[string]map[string]struct{})

	for _, change := range changes {
		if !written(change) {
			continue
		}
		switch change.Entity {
		case domain.EntityRelation:
			if r, ok := change.After.(domain.Relation); ok {
				pending[r.ID] = struct{}{}
			}
		case domain.EntityElement:
			el, ok := change.After.(domain.Element)
			if !ok {
				continue
			}
			if before, ok := change.Before.(domain.Element); ok && before.Type == el.Type {
				continue
			}
			if touchedPackages[el.PackageID] == nil {
				touchedPackages[el.PackageID] = make(map[string]struct{})
			}
			touchedPackages[el.PackageID][el.ID] = struct{}{}
		}
	}
	for pkgID, elements := range touchedPackages {
		for _, r := range view.ListRelations(pkgID) {
			_, src := elements[r.SourceID]
			_, dst := elements[r.TargetID]
			if src || dst {
				pending[r.ID] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r, ok := view.FindRelation(id)
		if !ok {
			continue
		}
		res.Violations = append(res.Violations, checkRelation(view, r)...)
	}
	return res, nil
}

func checkRelation(view domain.RuleView, r domain.Relation) []domain.Violation {
	var out []domain.Violation
	src, srcOK := view.FindElement(r.SourceID)
	if !srcOK {
		out = append(out, blockViolation(relationIntegrityRuleName, domain.EntityRelation, r.ID,
			fmt.Sprintf("relation %s references missing source %s", r.ID, r.SourceID)))
	}
	dst, dstOK := view.FindElement(r.TargetID)
	if !dstOK {
		out = append(out, blockViolation(relationIntegrityRuleName, domain.EntityRelation, r.ID,
			fmt.Sprintf("relation %s references missing target %s", r.ID, r.TargetID)))
	}
	if !srcOK || !dstOK {
		return out
	}
	if !metamodel.IsRelationType(r.Type) {
		out = append(out, blockViolation(relationIntegrityRuleName, domain.EntityRelation, r.ID,
			fmt.Sprintf("relation %s has unknown type %q", r.ID, r.Type)))
	} else if !metamodel.CanConnect(src.Type, dst.Type, r.Type) {
		out = append(out, blockViolation(relationIntegrityRuleName, domain.EntityRelation, r.ID,
			fmt.Sprintf("%s relation not allowed from %s to %s", r.Type, src.Type, dst.Type)))
	}
	if src.PackageID != r.PackageID || dst.PackageID != r.PackageID {
		out = append(out, warnViolation(relationIntegrityRuleName, domain.EntityRelation, r.ID,
			fmt.Sprintf("relation %s crosses package boundary", r.ID)))
	}
	return out
}

package core

import (
	"context"
	"fmt"

	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

const elementTypeRuleName = "element_type"

// ElementTypeRule blocks elements whose type is not part of the metamodel.
func ElementTypeRule() domain.Rule {
	return elementTypeRule{}
}

type elementTypeRule struct{}

func (elementTypeRule) Name() string { return elementTypeRuleName }

func (elementTypeRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityElement || !written(change) {
			continue
		}
		el, ok := change.After.(domain.Element)
		if !ok {
			continue
		}
		if !metamodel.IsElementType(el.Type) {
			res.Violations = append(res.Violations, blockViolation(elementTypeRuleName, domain.EntityElement, el.ID,
				fmt.Sprintf("element %s has unknown type %q", el.ID, el.Type)))
		}
	}
	return res, nil
}

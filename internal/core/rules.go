package core

import "archcore/pkg/domain"

type (
	Rule        = domain.Rule
	RuleView    = domain.RuleView
	RulesEngine = domain.RulesEngine
	Change      = domain.Change
	Result      = domain.Result
	Violation   = domain.Violation
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in consistency
// rules: metamodel element types, relation integrity and folder hierarchy.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ElementTypeRule())
	engine.Register(RelationIntegrityRule())
	engine.Register(FolderHierarchyRule())
	return engine
}

func blockViolation(rule string, entity domain.EntityType, id, msg string) Violation {
	return Violation{Rule: rule, Severity: domain.SeverityBlock, Message: msg, Entity: entity, EntityID: id}
}

func warnViolation(rule string, entity domain.EntityType, id, msg string) Violation {
	return Violation{Rule: rule, Severity: domain.SeverityWarn, Message: msg, Entity: entity, EntityID: id}
}

// written reports whether the change leaves an entity behind.
func written(c Change) bool {
	return c.After != nil && c.Action != domain.ActionDelete
}

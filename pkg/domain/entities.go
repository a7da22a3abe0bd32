// Package domain defines the persistent model entities, value types, and
// rule evaluation primitives used by archcore.
package domain

import (
	"fmt"
	"time"

	"archcore/pkg/metamodel"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPackage identifies a package (root aggregate) record.
	EntityPackage EntityType = "package"
	// EntityFolder identifies a folder record.
	EntityFolder EntityType = "folder"
	// EntityElement identifies an element record.
	EntityElement  EntityType = "element"
	EntityRelation EntityType = "relation"
	EntityView     EntityType = "view"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// SandboxPrefix marks package identifiers allocated for sandboxes.
const SandboxPrefix = "sandbox_"

// Package is the root aggregate owning folders, elements, relations and views.
type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FolderType distinguishes what a folder is meant to hold.
type FolderType string

// Folder kinds.
const (
	FolderGeneric FolderType = "folder"
	FolderViews   FolderType = "view-folder"
	FolderElement FolderType = "element-folder"
)

// Folder is a node of the per-package folder forest.
type Folder struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      FolderType `json:"type"`
	ParentID  *string    `json:"parentId"`
	PackageID string     `json:"packageId"`
}

// Element is a typed node of the architecture graph.
type Element struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Type          metamodel.ElementType `json:"type"`
	PackageID     string                `json:"packageId"`
	FolderID      *string               `json:"folderId,omitempty"`
	ExternalID    string                `json:"externalId,omitempty"`
	Description   string                `json:"description,omitempty"`
	Documentation string                `json:"documentation,omitempty"`
	Properties    Properties            `json:"properties"`
	CreatedAt     time.Time             `json:"createdAt"`
	ModifiedAt    time.Time             `json:"modifiedAt"`
	Author        string                `json:"author,omitempty"`
}

// Relation is a typed, directed edge between two elements.
type Relation struct {
	ID            string                 `json:"id"`
	Type          metamodel.RelationType `json:"type"`
	Name          string                 `json:"name,omitempty"`
	SourceID      string                 `json:"sourceId"`
	TargetID      string                 `json:"targetId"`
	PackageID     string                 `json:"packageId"`
	FolderID      *string                `json:"folderId,omitempty"`
	Description   string                 `json:"description,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Properties    Properties             `json:"properties"`
	CreatedAt     time.Time              `json:"createdAt"`
	ModifiedAt    time.Time              `json:"modifiedAt"`
	Author        string                 `json:"author,omitempty"`
}

// View is a diagram over elements and relations. The lock fields embed the
// advisory check-out state; an empty LockedBy means unlocked.
type View struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PackageID     string     `json:"packageId"`
	FolderID      *string    `json:"folderId,omitempty"`
	Layout        Layout     `json:"layout"`
	LockedBy      string     `json:"lockedBy,omitempty"`
	LockedAt      *time.Time `json:"lockedAt,omitempty"`
	LockMessage   string     `json:"lockMessage,omitempty"`
	Description   string     `json:"description,omitempty"`
	Documentation string     `json:"documentation,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ModifiedAt    time.Time  `json:"modifiedAt"`
	Author        string     `json:"author,omitempty"`
}

// Locked reports whether the view is currently checked out.
func (v View) Locked() bool { return v.LockedBy != "" }

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}

// ErrNotFound is returned when a referenced entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

package topology

import (
	"fmt"
	"strings"
)

// Defect is one structural problem found while building a topology.
type Defect struct {
	// EntityID is the logical id of the defective entity, when known.
	EntityID string `json:"entity_id,omitempty"`

	// Field is the attribute or reference the defect concerns.
	Field string `json:"field,omitempty"`

	// Message describes the defect.
	Message string `json:"message"`
}

func (d Defect) String() string {
	switch {
	case d.EntityID != "" && d.Field != "":
		return fmt.Sprintf("%s: %s: %s", d.EntityID, d.Field, d.Message)
	case d.EntityID != "":
		return fmt.Sprintf("%s: %s", d.EntityID, d.Message)
	default:
		return d.Message
	}
}

// StructuralError aggregates every structural defect found in one build
// pass, so callers see the complete defect set instead of fixing
// problems one at a time.
type StructuralError struct {
	Defects []Defect `json:"defects"`
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	if len(e.Defects) == 1 {
		return fmt.Sprintf("topology is structurally invalid: %s", e.Defects[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "topology is structurally invalid (%d defects):", len(e.Defects))
	for _, d := range e.Defects {
		sb.WriteString("\n  - ")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// defectList collects defects during construction.
type defectList struct {
	defects []Defect
}

func (l *defectList) add(entityID, field, format string, args ...any) {
	l.defects = append(l.defects, Defect{
		EntityID: entityID,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (l *defectList) err() error {
	if len(l.defects) == 0 {
		return nil
	}
	return &StructuralError{Defects: l.defects}
}

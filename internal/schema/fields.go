package schema

import "github.com/sells-group/org-directory/internal/model"

// Fields returns the canonical field list in column order.
func Fields() []model.Field { return model.Canonical().Fields }

// Index returns the column position of name, or -1.
func Index(name string) int { return model.Canonical().Index(name) }

// Kind returns the kind of name.
func Kind(name string) model.Kind { return model.Canonical().Kind(name) }

// Version identifies the canonical field layout. Persisted batches written
// under a different version are not reused.
func Version() string { return model.Canonical().Version() }

// Package records splits the flat Record elements of an export into one
// table per record type.
package records

import (
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/xmldoc"
)

// UnknownType groups records that carry no type attribute.
const UnknownType = "unknown"

// Partition groups the direct Record children of root by their type
// attribute. Tables appear in the order their type is first seen and keep
// every attribute value as found in the document.
func Partition(root *xmldoc.Node) *table.Set {
	set := table.NewSet()
	for _, rec := range root.FindAll("Record") {
		typ, ok := rec.Attr("type")
		if !ok || typ == "" {
			typ = UnknownType
		}
		set.Get(typ).Append(rec.Fields())
	}
	return set
}

// Package export extracts the singleton parts of an export document: the
// personal characteristics, locale and export date, and the activity
// summaries.
package export

import (
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
	"github.com/franz/health-cache/internal/xmldoc"
)

// Characteristic attributes of the Me element
const (
	AttrDateOfBirth      = "HKCharacteristicTypeIdentifierDateOfBirth"
	AttrBiologicalSex    = "HKCharacteristicTypeIdentifierBiologicalSex"
	AttrBloodType        = "HKCharacteristicTypeIdentifierBloodType"
	AttrSkinType         = "HKCharacteristicTypeIdentifierFitzpatrickSkinType"
	AttrMedicationsUse   = "HKCharacteristicTypeIdentifierCardioFitnessMedicationsUse"
	MetadataTable        = "metadata"
	ActivitySummaryTable = "activity_summary"
)

// Characteristics are the personal characteristics of the export owner.
type Characteristics struct {
	DateOfBirth    string
	BiologicalSex  string
	BloodType      string
	SkinType       string
	MedicationsUse string
}

// Summary holds the singleton tables of an export.
type Summary struct {
	Locale          string
	ExportDate      string
	Characteristics Characteristics
	Metadata        *table.Table // one row: Me attributes, locale, export_date
	ActivitySummary *table.Table // one row per ActivitySummary element
}

// Summarize reads the Me, ExportDate and ActivitySummary children of root.
// Me is required; locale and export date are left empty when absent.
func Summarize(root *xmldoc.Node) (*Summary, error) {
	me := root.Find("Me")
	if me == nil {
		return nil, &util.ParseError{Element: "Me", Err: util.ErrMissingElement}
	}

	s := &Summary{}
	s.Locale, _ = root.Attr("locale")
	if ed := root.Find("ExportDate"); ed != nil {
		s.ExportDate, _ = ed.Attr("value")
	}

	attrs := me.AttrMap()
	s.Characteristics = Characteristics{
		DateOfBirth:    attrs[AttrDateOfBirth],
		BiologicalSex:  attrs[AttrBiologicalSex],
		BloodType:      attrs[AttrBloodType],
		SkinType:       attrs[AttrSkinType],
		MedicationsUse: attrs[AttrMedicationsUse],
	}

	s.Metadata = table.New(MetadataTable)
	row := append(me.Fields(),
		table.Field{Name: "locale", Value: s.Locale},
		table.Field{Name: "export_date", Value: s.ExportDate},
	)
	s.Metadata.Append(row)

	s.ActivitySummary = table.New(ActivitySummaryTable)
	for _, n := range root.FindAll("ActivitySummary") {
		s.ActivitySummary.Append(n.Fields())
	}

	return s, nil
}

package common

import (
	"encoding/json"
	"strings"
)

// Each enumeration below is closed and carries an explicit fallback case.
// Values the engine has not seen before decode to that fallback instead of
// failing, so newer upstream extractors do not break older graph builders.

type PageType string

const (
	PageTypeClinicalNote     PageType = "clinical_note"
	PageTypeImagingReport    PageType = "imaging_report"
	PageTypeLabReport        PageType = "lab_report"
	PageTypeOperativeReport  PageType = "operative_report"
	PageTypeDischargeSummary PageType = "discharge_summary"
	PageTypeBilling          PageType = "billing"
	PageTypeCorrespondence   PageType = "correspondence"
	PageTypeOther            PageType = "other"
)

var ValidPageTypes = []PageType{
	PageTypeClinicalNote,
	PageTypeImagingReport,
	PageTypeLabReport,
	PageTypeOperativeReport,
	PageTypeDischargeSummary,
	PageTypeBilling,
	PageTypeCorrespondence,
	PageTypeOther,
}

func ParsePageType(s string) PageType { return parseEnum(s, ValidPageTypes, PageTypeOther) }

func (t *PageType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, t, ValidPageTypes, PageTypeOther)
}

type TextOrigin string

const (
	TextOriginEmbeddedPDF TextOrigin = "embedded_pdf_text"
	TextOriginOCR         TextOrigin = "ocr"
	TextOriginOther       TextOrigin = "other"
)

var ValidTextOrigins = []TextOrigin{TextOriginEmbeddedPDF, TextOriginOCR, TextOriginOther}

func ParseTextOrigin(s string) TextOrigin { return parseEnum(s, ValidTextOrigins, TextOriginOther) }

func (t *TextOrigin) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, t, ValidTextOrigins, TextOriginOther)
}

type ProviderType string

const (
	ProviderTypePhysician     ProviderType = "physician"
	ProviderTypeFacility      ProviderType = "facility"
	ProviderTypeTherapist     ProviderType = "therapist"
	ProviderTypeChiropractor  ProviderType = "chiropractor"
	ProviderTypeImagingCenter ProviderType = "imaging_center"
	ProviderTypePharmacy      ProviderType = "pharmacy"
	ProviderTypeOther         ProviderType = "other"
)

var ValidProviderTypes = []ProviderType{
	ProviderTypePhysician,
	ProviderTypeFacility,
	ProviderTypeTherapist,
	ProviderTypeChiropractor,
	ProviderTypeImagingCenter,
	ProviderTypePharmacy,
	ProviderTypeOther,
}

func ParseProviderType(s string) ProviderType {
	return parseEnum(s, ValidProviderTypes, ProviderTypeOther)
}

func (t *ProviderType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, t, ValidProviderTypes, ProviderTypeOther)
}

type EventType string

const (
	EventTypeOfficeVisit       EventType = "office_visit"
	EventTypeEmergencyVisit    EventType = "emergency_visit"
	EventTypeHospitalAdmission EventType = "hospital_admission"
	EventTypeImaging           EventType = "imaging"
	EventTypeProcedure         EventType = "procedure"
	EventTypeTherapy           EventType = "therapy"
	EventTypeLab               EventType = "lab"
	EventTypePharmacy          EventType = "pharmacy"
	EventTypeOther             EventType = "other"
)

var ValidEventTypes = []EventType{
	EventTypeOfficeVisit,
	EventTypeEmergencyVisit,
	EventTypeHospitalAdmission,
	EventTypeImaging,
	EventTypeProcedure,
	EventTypeTherapy,
	EventTypeLab,
	EventTypePharmacy,
	EventTypeOther,
}

func ParseEventType(s string) EventType { return parseEnum(s, ValidEventTypes, EventTypeOther) }

func (t *EventType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, t, ValidEventTypes, EventTypeOther)
}

type FactKind string

const (
	FactKindChiefComplaint     FactKind = "chief_complaint"
	FactKindSymptom            FactKind = "symptom"
	FactKindFinding            FactKind = "finding"
	FactKindDiagnosis          FactKind = "diagnosis"
	FactKindMedication         FactKind = "medication"
	FactKindProcedureDetail    FactKind = "procedure_detail"
	FactKindImagingImpression  FactKind = "imaging_impression"
	FactKindPastMedicalHistory FactKind = "past_medical_history"
	FactKindPlan               FactKind = "plan"
	FactKindDisposition        FactKind = "disposition"
	FactKindOther              FactKind = "other"
)

var ValidFactKinds = []FactKind{
	FactKindChiefComplaint,
	FactKindSymptom,
	FactKindFinding,
	FactKindDiagnosis,
	FactKindMedication,
	FactKindProcedureDetail,
	FactKindImagingImpression,
	FactKindPastMedicalHistory,
	FactKindPlan,
	FactKindDisposition,
	FactKindOther,
}

func ParseFactKind(s string) FactKind { return parseEnum(s, ValidFactKinds, FactKindOther) }

func (k *FactKind) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, k, ValidFactKinds, FactKindOther)
}

type DateKind string

const (
	DateKindSingle    DateKind = "SINGLE"
	DateKindRange     DateKind = "RANGE"
	DateKindOpenRange DateKind = "OPEN_RANGE"
	DateKindUnknown   DateKind = "UNKNOWN"
)

var ValidDateKinds = []DateKind{DateKindSingle, DateKindRange, DateKindOpenRange, DateKindUnknown}

func ParseDateKind(s string) DateKind { return parseEnum(s, ValidDateKinds, DateKindUnknown) }

func (k *DateKind) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, k, ValidDateKinds, DateKindUnknown)
}

// DateSource ranks how a date was obtained. TIER1 is an explicit document
// header date, TIER2 a date written inline in clinical text, TIER3 an
// inferred or contextual date. NONE marks a placeholder.
type DateSource string

const (
	DateSourceTier1   DateSource = "TIER1"
	DateSourceTier2   DateSource = "TIER2"
	DateSourceTier3   DateSource = "TIER3"
	DateSourceUnknown DateSource = "UNKNOWN"
	DateSourceNone    DateSource = "NONE"
)

var ValidDateSources = []DateSource{
	DateSourceTier1,
	DateSourceTier2,
	DateSourceTier3,
	DateSourceUnknown,
	DateSourceNone,
}

func ParseDateSource(s string) DateSource {
	return parseEnum(s, ValidDateSources, DateSourceUnknown)
}

func (s *DateSource) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, s, ValidDateSources, DateSourceUnknown)
}

// Rank orders sources from most to least trusted. Higher is better.
func (s DateSource) Rank() int {
	switch s {
	case DateSourceTier1:
		return 4
	case DateSourceTier2:
		return 3
	case DateSourceTier3:
		return 2
	case DateSourceUnknown:
		return 1
	default:
		return 0
	}
}

func parseEnum[T ~string](value string, valid []T, fallback T) T {
	value = strings.TrimSpace(value)
	for _, v := range valid {
		if strings.EqualFold(string(v), value) {
			return v
		}
	}
	return fallback
}

func unmarshalEnum[T ~string](b []byte, out *T, valid []T, fallback T) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*out = parseEnum(s, valid, fallback)
	return nil
}

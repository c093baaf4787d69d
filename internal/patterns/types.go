package patterns

import "regexp"

// Category classifies the kind of protected health information a pattern
// detects. Categories are plain strings so catalogs can grow without
// touching call sites.
type Category string

const (
	CategoryName            Category = "NAME"
	CategoryDateOfBirth     Category = "DATE_OF_BIRTH"
	CategoryNationalID      Category = "NATIONAL_ID"
	CategoryMedicalRecordNo Category = "MEDICAL_RECORD_NUMBER"
	CategoryPhone           Category = "PHONE"
	CategoryEmail           Category = "EMAIL"
	CategoryAddress         Category = "ADDRESS"
	CategoryGenericDate     Category = "GENERIC_DATE"
	CategoryIPAddress       Category = "IP_ADDRESS"
	CategoryCreditCard      Category = "CREDIT_CARD"
	CategoryOtherIdentifier Category = "OTHER_IDENTIFIER"
)

// JurisdictionCommon marks patterns that apply regardless of jurisdiction.
const JurisdictionCommon = "COMMON"

// DetectionPattern is one compiled PHI matcher. A hit must additionally pass
// Validator (when non-nil) before it counts as a detection; checksum-bearing
// identifiers use this to reject format-coincidental matches.
type DetectionPattern struct {
	Name         string
	Category     Category
	Jurisdiction string
	Regex        *regexp.Regexp
	// Group selects the capture group holding the sensitive value; zero
	// means the whole match. Label-prefixed patterns such as
	// "MRN: 12345678" capture just the number so the label survives.
	Group     int
	Validator func(string) bool
	// Specificity ranks patterns for overlap resolution. Higher values win
	// when two patterns claim overlapping spans of the same text.
	Specificity int
	// Examples are live test values: the library self-test requires every
	// pattern to match and validate each of its examples.
	Examples []string
}

// TokenPrefix maps a category to the prefix used for its pseudonyms, e.g.
// NAME values are rewritten to PATIENT-0001, PATIENT-0002, ...
var TokenPrefix = map[Category]string{
	CategoryName:            "PATIENT",
	CategoryDateOfBirth:     "DOB",
	CategoryNationalID:      "NID",
	// Not "MRN": the MRN detection pattern accepts "MRN-<digits>", so an
	// MRN-prefixed token would be re-detected on a second pass.
	CategoryMedicalRecordNo: "RECORD",
	CategoryPhone:           "PHONE",
	CategoryEmail:           "EMAIL",
	CategoryAddress:         "ADDR",
	CategoryGenericDate:     "DATE",
	CategoryIPAddress:       "IP",
	CategoryCreditCard:      "CARD",
	CategoryOtherIdentifier: "ID",
}

// DateCategories are the categories whose detected values are calendar
// dates and therefore eligible for subject-scoped date shifting.
var DateCategories = map[Category]bool{
	CategoryDateOfBirth: true,
	CategoryGenericDate: true,
}

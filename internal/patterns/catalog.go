package patterns

// spec is the uncompiled form of a DetectionPattern as declared in the
// built-in catalogs. Build compiles every spec; a bad expression is a
// fatal CompilationError, never a silent skip.
type spec struct {
	name        string
	category    Category
	expr        string
	group       int
	validator   func(string) bool
	specificity int
	examples    []string
}

// commonSpecs is the baseline catalog shared by every jurisdiction.
func commonSpecs() []spec {
	return []spec{
		{
			name:        "email_address",
			category:    CategoryEmail,
			expr:        `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			specificity: 90,
			examples:    []string{"jane.doe@example.org"},
		},
		{
			name:        "credit_card",
			category:    CategoryCreditCard,
			expr:        `\b(?:4\d{12}(?:\d{3})?|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`,
			validator:   luhnCheck,
			specificity: 95,
			examples:    []string{"4111111111111111"},
		},
		{
			name:        "ipv4_address",
			category:    CategoryIPAddress,
			expr:        `\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`,
			specificity: 85,
			examples:    []string{"192.168.10.44"},
		},
		{
			name:        "medical_record_number",
			category:    CategoryMedicalRecordNo,
			expr:        `(?i)\b(?:MRN|medical record(?: number| no\.?)?)[\s:#-]*(\d{6,10})\b`,
			group:       1,
			specificity: 92,
			examples:    []string{"MRN: 12345678"},
		},
		{
			name:        "international_phone",
			category:    CategoryPhone,
			expr:        `(?:\+|00)[1-9]\d{0,2}[\s.-]?\(?\d{1,4}\)?(?:[\s.-]?\d{2,4}){2,4}`,
			specificity: 60,
			examples:    []string{"+1 555 123 4567"},
		},
		{
			name:        "iso_date",
			category:    CategoryGenericDate,
			expr:        `\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`,
			specificity: 70,
			examples:    []string{"1985-03-02"},
		},
		{
			name:        "street_address",
			category:    CategoryAddress,
			expr:        `\b\d{1,5} [A-Z][a-z]+(?: [A-Z][a-z]+)* (?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b`,
			specificity: 75,
			examples:    []string{"742 Evergreen Terrace Way", "12 Baker Street"},
		},
		{
			// Two to three capitalized words. Deliberately the least specific
			// pattern in the catalog: every other category outranks it when
			// spans overlap.
			name:        "person_name",
			category:    CategoryName,
			expr:        `\b[A-Z][a-z]+(?: [A-Z][a-z]+){1,2}\b`,
			specificity: 20,
			examples:    []string{"John Doe", "Mary Jane Watson"},
		},
	}
}

// jurisdictionSpecs holds the per-jurisdiction catalogs keyed by code.
func jurisdictionSpecs() map[string][]spec {
	return map[string][]spec{
		"US": {
			{
				name:        "us_ssn",
				category:    CategoryNationalID,
				expr:        `\b\d{3}-\d{2}-\d{4}\b`,
				validator:   validUSSSN,
				specificity: 88,
				examples:    []string{"123-45-6789"},
			},
			{
				name:        "us_phone",
				category:    CategoryPhone,
				expr:        `\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`,
				specificity: 55,
				examples:    []string{"(555) 123-4567", "555-123-4567"},
			},
			{
				name:        "us_zip_plus4",
				category:    CategoryAddress,
				expr:        `\b\d{5}-\d{4}\b`,
				specificity: 72,
				examples:    []string{"12345-6789"},
			},
			{
				name:        "us_date",
				category:    CategoryGenericDate,
				expr:        `\b(?:0?[1-9]|1[0-2])/(?:0?[1-9]|[12]\d|3[01])/(?:19|20)\d{2}\b`,
				specificity: 65,
				examples:    []string{"03/02/1985", "3/2/1985"},
			},
		},
		"UK": {
			{
				name:        "uk_nhs_number",
				category:    CategoryMedicalRecordNo,
				expr:        `\b\d{3}[ -]?\d{3}[ -]?\d{4}\b`,
				validator:   validNHSNumber,
				specificity: 90,
				examples:    []string{"943 476 5919"},
			},
			{
				name:        "uk_ni_number",
				category:    CategoryNationalID,
				expr:        `\b[A-CEGHJ-PR-TW-Z]{2}\d{6}[A-D]\b`,
				specificity: 80,
				examples:    []string{"AB123456C"},
			},
		},
		"DE": {
			{
				name:        "de_tax_id",
				category:    CategoryNationalID,
				expr:        `\b\d{2} ?\d{3} ?\d{3} ?\d{3}\b`,
				validator:   validGermanTaxID,
				specificity: 88,
				examples:    []string{"86 095 742 719", "86095742719"},
			},
			{
				name:        "de_date",
				category:    CategoryGenericDate,
				expr:        `\b(?:0?[1-9]|[12]\d|3[01])\.(?:0?[1-9]|1[0-2])\.(?:19|20)\d{2}\b`,
				specificity: 65,
				examples:    []string{"02.03.1985"},
			},
			{
				name:        "de_phone",
				category:    CategoryPhone,
				expr:        `\b0[1-9]\d{1,4}[ /-]?\d{3,8}\b`,
				specificity: 50,
				examples:    []string{"030 9018200"},
			},
		},
		"FR": {
			{
				name:        "fr_nir",
				category:    CategoryNationalID,
				expr:        `\b[12] ?\d{2} ?(?:0[1-9]|1[0-2]) ?(?:\d{2}|2[AB]) ?\d{3} ?\d{3} ?\d{2}\b`,
				validator:   validFrenchNIR,
				specificity: 90,
				examples:    []string{"1 84 12 76 451 089 46"},
			},
		},
		"CA": {
			{
				name:        "ca_sin",
				category:    CategoryNationalID,
				expr:        `\b\d{3}[ -]?\d{3}[ -]?\d{3}\b`,
				validator:   validCanadianSIN,
				specificity: 85,
				examples:    []string{"046 454 286"},
			},
		},
		"AU": {
			{
				name:        "au_medicare",
				category:    CategoryMedicalRecordNo,
				expr:        `\b[2-6]\d{3} ?\d{5} ?\d{1,2}\b`,
				validator:   validAustralianMedicare,
				specificity: 85,
				examples:    []string{"2123 45670 1"},
			},
			{
				name:        "au_tfn",
				category:    CategoryNationalID,
				expr:        `\b\d{3} ?\d{3} ?\d{2,3}\b`,
				validator:   validAustralianTFN,
				specificity: 82,
				examples:    []string{"123 456 782"},
			},
		},
	}
}

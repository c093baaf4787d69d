package patterns

import (
	"fmt"
	"testing"
)

func TestBuild(t *testing.T) {
	lib, err := Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Run("CommonBaseline", func(t *testing.T) {
		if len(lib.Common()) == 0 {
			t.Fatal("common baseline is empty")
		}
		for _, p := range lib.Common() {
			if p.Jurisdiction != JurisdictionCommon {
				t.Errorf("pattern %s has jurisdiction %s, want COMMON", p.Name, p.Jurisdiction)
			}
		}
	})

	t.Run("KnownJurisdictions", func(t *testing.T) {
		for _, code := range []string{"US", "UK", "DE", "FR", "CA", "AU"} {
			if !lib.Known(code) {
				t.Errorf("jurisdiction %s missing from library", code)
			}
		}
		if lib.Known("XX") {
			t.Error("XX should not be a known jurisdiction")
		}
	})

	// Rewriting a value must not produce text a second pass would detect.
	// The MRN pattern in particular accepts "MRN-<digits>", so the medical
	// record token prefix must never be "MRN" itself.
	t.Run("TokensNotDetectable", func(t *testing.T) {
		for cat, prefix := range TokenPrefix {
			for _, token := range []string{
				fmt.Sprintf("%s-%04d", prefix, 1),
				fmt.Sprintf("%s-%06d", prefix, 123456),
				fmt.Sprintf("%s-%d", prefix, 123456789),
			} {
				for _, p := range lib.all() {
					loc := p.Regex.FindStringIndex(token)
					if loc == nil {
						continue
					}
					if p.Validator != nil && !p.Validator(token[loc[0]:loc[1]]) {
						continue
					}
					t.Errorf("token %q for category %s is detectable by pattern %s", token, cat, p.Name)
				}
			}
		}
	})

	t.Run("PatternsCompiled", func(t *testing.T) {
		for _, code := range lib.Jurisdictions() {
			list, ok := lib.ForJurisdiction(code)
			if !ok || len(list) == 0 {
				t.Errorf("jurisdiction %s has no patterns", code)
			}
			for _, p := range list {
				if p.Regex == nil {
					t.Errorf("pattern %s has nil regex", p.Name)
				}
			}
		}
	})
}

func TestSelfTestRejectsCollidingToken(t *testing.T) {
	lib, err := Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Simulate a misconfigured catalog whose tokens would be re-detected.
	saved := TokenPrefix[CategoryIPAddress]
	TokenPrefix[CategoryIPAddress] = "10.0.0.1"
	defer func() { TokenPrefix[CategoryIPAddress] = saved }()

	if err := lib.selfTest(); err == nil {
		t.Fatal("selfTest accepted a pseudonym prefix that matches the IPv4 pattern")
	}
}

func TestValidators(t *testing.T) {
	cases := []struct {
		name      string
		validator func(string) bool
		valid     []string
		invalid   []string
	}{
		{
			name:      "Luhn",
			validator: luhnCheck,
			valid:     []string{"4111111111111111", "5555555555554444"},
			invalid:   []string{"4111111111111112", "1234567890123456", "abc"},
		},
		{
			name:      "USSSN",
			validator: validUSSSN,
			valid:     []string{"123-45-6789"},
			invalid:   []string{"000-45-6789", "666-45-6789", "923-45-6789", "123-00-6789", "123-45-0000"},
		},
		{
			name:      "NHSNumber",
			validator: validNHSNumber,
			valid:     []string{"943 476 5919", "9434765919"},
			invalid:   []string{"943 476 5918", "123 456 7890"},
		},
		{
			name:      "GermanTaxID",
			validator: validGermanTaxID,
			valid:     []string{"86095742719", "86 095 742 719"},
			invalid:   []string{"86095742710", "06095742719", "1234"},
		},
		{
			name:      "FrenchNIR",
			validator: validFrenchNIR,
			valid:     []string{"1 84 12 76 451 089 46", "184127645108946"},
			invalid:   []string{"184127645108947", "284127645108946"},
		},
		{
			name:      "AustralianTFN",
			validator: validAustralianTFN,
			valid:     []string{"123 456 782", "123456782"},
			invalid:   []string{"123 456 789"},
		},
		{
			name:      "AustralianMedicare",
			validator: validAustralianMedicare,
			valid:     []string{"2123 45670 1", "2123456701"},
			invalid:   []string{"2123 45671 1", "9123 45670 1"},
		},
		{
			name:      "CanadianSIN",
			validator: validCanadianSIN,
			valid:     []string{"046 454 286", "046454286"},
			invalid:   []string{"046 454 287", "12345678"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, v := range tc.valid {
				if !tc.validator(v) {
					t.Errorf("%q should validate", v)
				}
			}
			for _, v := range tc.invalid {
				if tc.validator(v) {
					t.Errorf("%q should not validate", v)
				}
			}
		})
	}
}

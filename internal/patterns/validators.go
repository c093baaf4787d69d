package patterns

import "strings"

// digitsOf strips common separators and returns only the digit characters,
// or false if any remaining character is not a digit.
func digitsOf(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
			// separator, skip
		default:
			return "", false
		}
	}
	return b.String(), true
}

// luhnCheck validates a digit string using the Luhn algorithm. Used for
// credit card numbers and Canadian Social Insurance Numbers.
func luhnCheck(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) < 9 {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// validUSSSN rejects SSNs with invalid area, group, or serial components.
// Area 000, 666, and 900-999 are never issued; group 00 and serial 0000
// are likewise invalid.
func validUSSSN(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) != 9 {
		return false
	}
	area := digits[0:3]
	group := digits[3:5]
	serial := digits[5:9]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// validNHSNumber validates a UK NHS number check digit (modulus 11 over the
// first nine digits with weights 10 down to 2).
func validNHSNumber(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(digits[i]-'0') * (10 - i)
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}
	return check == int(digits[9]-'0')
}

// validGermanTaxID validates a German Steuer-ID using the ISO 7064
// MOD 11,10 check digit over the first ten digits.
func validGermanTaxID(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) != 11 || digits[0] == '0' {
		return false
	}
	product := 10
	for i := 0; i < 10; i++ {
		sum := (int(digits[i]-'0') + product) % 10
		if sum == 0 {
			sum = 10
		}
		product = (sum * 2) % 11
	}
	check := 11 - product
	if check == 11 {
		check = 0
	}
	return check == int(digits[10]-'0')
}

// validFrenchNIR validates the two-digit key of a French social insurance
// number: key = 97 - (first 13 digits mod 97).
func validFrenchNIR(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) != 15 {
		return false
	}
	var number uint64
	for i := 0; i < 13; i++ {
		number = number*10 + uint64(digits[i]-'0')
	}
	key := uint64(digits[13]-'0')*10 + uint64(digits[14]-'0')
	return 97-number%97 == key
}

// validAustralianTFN validates an Australian Tax File Number using the
// weighted modulus 11 scheme.
func validAustralianTFN(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || (len(digits) != 8 && len(digits) != 9) {
		return false
	}
	weights := []int{1, 4, 3, 7, 5, 8, 6, 9, 10}
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	return sum%11 == 0
}

// validAustralianMedicare validates a Medicare card number: first digit 2-6
// and a weighted checksum over the first eight digits equal to the ninth.
func validAustralianMedicare(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) < 10 || len(digits) > 11 {
		return false
	}
	if digits[0] < '2' || digits[0] > '6' {
		return false
	}
	weights := []int{1, 3, 7, 9, 1, 3, 7, 9}
	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	return sum%10 == int(digits[8]-'0')
}

// validCanadianSIN applies the Luhn check to a nine-digit Social Insurance
// Number.
func validCanadianSIN(s string) bool {
	digits, ok := digitsOf(s)
	if !ok || len(digits) != 9 {
		return false
	}
	return luhnCheck(digits)
}

package domain

import "strings"

// CPF is the canonical 11-digit national taxpayer identifier, stored
// without punctuation. Construct via NewCPF only.
type CPF string

// NewCPF validates raw input and returns the canonical CPF. Punctuation
// (dots, dash, spaces) is stripped before validation. Validation covers
// length, the single-repeated-digit degenerate case, and both check
// digits.
func NewCPF(raw string) (CPF, error) {
	digits := stripNonDigits(raw)
	if len(digits) != 11 {
		return "", NewInvalidValue("cpf", "must contain exactly 11 digits")
	}
	if allSameDigit(digits) {
		return "", NewInvalidValue("cpf", "repeated digit sequence")
	}
	if !checkDigitsValid(digits) {
		return "", NewInvalidValue("cpf", "check digits do not match")
	}
	return CPF(digits), nil
}

// String returns the canonical 11-digit form.
func (c CPF) String() string { return string(c) }

// Masked returns the user-facing form XXX.XXX.***-NN, preserving only
// the last two digits. Safe for logs and chat messages.
func (c CPF) Masked() string {
	s := string(c)
	if len(s) != 11 {
		return "XXX.XXX.***-**"
	}
	return "XXX.XXX.***-" + s[9:]
}

// MaskCPF masks an arbitrary CPF-ish string for display. Idempotent:
// masking an already-masked value returns it unchanged.
func MaskCPF(s string) string {
	if strings.Contains(s, "***") {
		return s
	}
	digits := stripNonDigits(s)
	if len(digits) != 11 {
		return "XXX.XXX.***-**"
	}
	return CPF(digits).Masked()
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSameDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// checkDigitsValid implements the standard mod-11 verification for both
// check digits.
func checkDigitsValid(s string) bool {
	return digitAt(s, 9) == computeCheckDigit(s, 9) &&
		digitAt(s, 10) == computeCheckDigit(s, 10)
}

func digitAt(s string, i int) int { return int(s[i] - '0') }

// computeCheckDigit computes the check digit at position pos (9 or 10)
// from the preceding digits.
func computeCheckDigit(s string, pos int) int {
	sum := 0
	weight := pos + 1
	for i := 0; i < pos; i++ {
		sum += digitAt(s, i) * (weight - i)
	}
	d := (sum * 10) % 11
	if d == 10 {
		d = 0
	}
	return d
}

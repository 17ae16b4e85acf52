package fetch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vietddude/statsync/internal/core/domain"
)

// ErrInvalidParams is returned for work items that must never reach the remote source.
var ErrInvalidParams = errors.New("invalid parameters")

const maxTextParam = 64

// Validate checks every parameter of a work item before any remote call.
func Validate(item domain.WorkItem) error {
	if len(item.Keys) == 0 {
		return fmt.Errorf("%w: no dimension values", ErrInvalidParams)
	}
	for _, k := range item.Keys {
		if err := validateValue(k.Kind, k.Value); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidParams, k.Param, k.Value, err)
		}
	}
	for _, p := range item.Static {
		if p.Name == "" {
			return fmt.Errorf("%w: static parameter without name", ErrInvalidParams)
		}
	}
	return nil
}

func validateValue(kind domain.ParamKind, v string) error {
	if v == "" {
		return errors.New("empty value")
	}
	if strings.Contains(v, domain.SignatureSeparator) {
		return fmt.Errorf("contains the signature separator %q", domain.SignatureSeparator)
	}
	switch kind {
	case domain.KindGameID:
		if len(v) < 8 || !allDigits(v) {
			return errors.New("game id must be at least 8 digits")
		}
	case domain.KindNumeric:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return errors.New("must be a positive integer")
		}
	case domain.KindSeason:
		if !validSeason(v) {
			return errors.New("season must look like 2023-24")
		}
	default:
		if len(v) > maxTextParam {
			return fmt.Errorf("longer than %d characters", maxTextParam)
		}
		for _, r := range v {
			if !unicode.IsPrint(r) {
				return errors.New("contains non-printable characters")
			}
		}
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validSeason accepts "YYYY-YY" where the suffix is the following year.
func validSeason(s string) bool {
	if len(s) != 7 || s[4] != '-' || !allDigits(s[:4]) || !allDigits(s[5:]) {
		return false
	}
	start, _ := strconv.Atoi(s[:4])
	end, _ := strconv.Atoi(s[5:])
	return (start+1)%100 == end
}

// Package accesskey builds and checks the 49 digit clave de acceso that
// identifies every electronic document issued to the SRI.
package accesskey

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/facturador/internal/sri"
)

const (
	// Length of a complete key including the check digit.
	Length     = 49
	baseLength = Length - 1

	dateLayout = "02012006"
)

var (
	// ErrMalformedBase is returned when the assembled fields are not 48
	// digits. It signals a programming or data error upstream.
	ErrMalformedBase = errors.New("accesskey: base must be 48 digits")
	// ErrInvalidKey is returned by Parse for keys that fail validation.
	ErrInvalidKey = errors.New("accesskey: invalid access key")
)

// Params are the fields encoded into a key.
type Params struct {
	IssueDate     time.Time
	DocumentType  string
	TaxpayerID    string
	Environment   sri.Environment
	Establishment string
	EmissionPoint string
	Sequential    string
	// NumericCode is drawn at random when empty.
	NumericCode string
}

// Generate assembles the 48 digit base and appends its mod-11 check digit.
func Generate(p Params) (string, error) {
	code := p.NumericCode
	if code == "" {
		code = RandomNumericCode()
	}
	var b strings.Builder
	b.Grow(Length)
	b.WriteString(p.IssueDate.Format(dateLayout))
	b.WriteString(pad(p.DocumentType, 2))
	b.WriteString(pad(p.TaxpayerID, 13))
	b.WriteString(p.Environment.Code())
	b.WriteString(pad(p.Establishment, 3))
	b.WriteString(pad(p.EmissionPoint, 3))
	b.WriteString(pad(p.Sequential, 9))
	b.WriteString(pad(code, 8))
	b.WriteString(sri.EmissionTypeNormal)
	base := b.String()
	if len(base) != baseLength || !digits(base) {
		return "", fmt.Errorf("%w: got %q (%d chars)", ErrMalformedBase, base, len(base))
	}
	return base + strconv.Itoa(Checksum(base)), nil
}

// Checksum computes the mod-11 check digit of a digit string. Weights 2..7
// cycle from the rightmost digit; 11 maps to 0 and 10 maps to 1.
func Checksum(base string) int {
	sum := 0
	weight := 2
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	r := 11 - sum%11
	switch r {
	case 11:
		return 0
	case 10:
		return 1
	}
	return r
}

// Validate reports whether key is 49 digits with a correct check digit.
func Validate(key string) bool {
	if len(key) != Length || !digits(key) {
		return false
	}
	return Checksum(key[:baseLength]) == int(key[baseLength]-'0')
}

// RandomNumericCode returns eight random digits.
func RandomNumericCode() string {
	return fmt.Sprintf("%08d", rand.IntN(100_000_000))
}

func pad(v string, width int) string {
	v = strings.TrimSpace(v)
	if len(v) >= width {
		return v
	}
	return strings.Repeat("0", width-len(v)) + v
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

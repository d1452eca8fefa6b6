package accesskey

import (
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/facturador/internal/sri"
)

// Parts is a decoded access key.
type Parts struct {
	IssueDate     time.Time       `json:"issueDate"`
	DocumentType  string          `json:"documentType"`
	TaxpayerID    string          `json:"taxpayerId"`
	Environment   sri.Environment `json:"environment"`
	Establishment string          `json:"establishment"`
	EmissionPoint string          `json:"emissionPoint"`
	Sequential    string          `json:"sequential"`
	NumericCode   string          `json:"numericCode"`
	EmissionType  string          `json:"emissionType"`
	CheckDigit    int             `json:"checkDigit"`
}

// Series is establishment and emission point joined, as printed on a RIDE.
func (p Parts) Series() string {
	return p.Establishment + p.EmissionPoint
}

// Parse validates key and splits it into its fields.
func Parse(key string) (Parts, error) {
	if !Validate(key) {
		return Parts{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	date, err := time.Parse(dateLayout, key[0:8])
	if err != nil {
		return Parts{}, fmt.Errorf("%w: issue date: %v", ErrInvalidKey, err)
	}
	env, ok := sri.EnvironmentFromCode(key[23:24])
	if !ok {
		return Parts{}, fmt.Errorf("%w: environment code %q", ErrInvalidKey, key[23:24])
	}
	check, _ := strconv.Atoi(key[48:49])
	return Parts{
		IssueDate:     date,
		DocumentType:  key[8:10],
		TaxpayerID:    key[10:23],
		Environment:   env,
		Establishment: key[24:27],
		EmissionPoint: key[27:30],
		Sequential:    key[30:39],
		NumericCode:   key[39:47],
		EmissionType:  key[47:48],
		CheckDigit:    check,
	}, nil
}

// Package sri models the Ecuadorian tax authority (Servicio de Rentas
// Internas): its environments, catalog codes and the reception and
// authorization web services.
package sri

import (
	"fmt"
	"strings"
)

// Environment selects the authority endpoint set for a document.
type Environment string

const (
	EnvironmentTest Environment = "TEST"
	EnvironmentProd Environment = "PROD"
)

// ParseEnvironment accepts TEST or PROD in any case.
func ParseEnvironment(raw string) (Environment, error) {
	env := Environment(strings.ToUpper(strings.TrimSpace(raw)))
	if !env.Valid() {
		return "", fmt.Errorf("sri: unknown environment %q", raw)
	}
	return env, nil
}

// Valid reports whether the environment is one of the two known values.
func (e Environment) Valid() bool {
	return e == EnvironmentTest || e == EnvironmentProd
}

// Code is the single digit used in access keys and the ambiente element.
func (e Environment) Code() string {
	if e == EnvironmentProd {
		return "2"
	}
	return "1"
}

// EnvironmentFromCode maps an ambiente digit back to its Environment.
func EnvironmentFromCode(code string) (Environment, bool) {
	switch code {
	case "1":
		return EnvironmentTest, true
	case "2":
		return EnvironmentProd, true
	}
	return "", false
}

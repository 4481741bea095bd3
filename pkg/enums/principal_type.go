package enums

import "fmt"

// PrincipalType identifies what kind of account holds billing identities.
type PrincipalType string

const (
	PrincipalUser         PrincipalType = "user"
	PrincipalOrganization PrincipalType = "organization"
)

var validPrincipalTypes = []PrincipalType{
	PrincipalUser,
	PrincipalOrganization,
}

func (p PrincipalType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PrincipalType.
func (p PrincipalType) IsValid() bool {
	for _, candidate := range validPrincipalTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePrincipalType converts raw input into a PrincipalType.
func ParsePrincipalType(value string) (PrincipalType, error) {
	for _, candidate := range validPrincipalTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid principal type %q", value)
}

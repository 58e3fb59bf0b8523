// Package validation provides input validation for Rolewarden.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

// External-chain addresses: 0x-prefixed, 40 hex chars
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Discord snowflake IDs: 17-20 decimal digits
var snowflakeRegex = regexp.MustCompile(`^[0-9]{17,20}$`)

// ValidateAddress validates an external-chain address
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !addressRegex.MatchString(address) {
		return errors.New("invalid address: must be 0x followed by 40 hex characters")
	}
	return nil
}

// NormalizeAddress lowercases an address. All storage lookups and cache
// keys use the normalized form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidateSnowflake validates a Discord snowflake ID
func ValidateSnowflake(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !snowflakeRegex.MatchString(id) {
		return errors.New("invalid id: must be a Discord snowflake")
	}
	return nil
}

// Package sqlguard rejects statements that could modify the remote catalog.
//
// The check is keyword based and does not parse SQL, so a forbidden keyword
// inside a string literal is rejected as well. Identifiers such as
// update_time pass because the keyword must stand as a whole word.
package sqlguard

import "regexp"

const (
	ReasonRejected = "DML operations are not allowed"
	ReasonPassed   = "Validation passed"
)

var dmlPattern = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP)\b`)

type Validator struct{}

func New() Validator {
	return Validator{}
}

func (Validator) Validate(sql string) (bool, string) {
	if dmlPattern.MatchString(sql) {
		return false, ReasonRejected
	}
	return true, ReasonPassed
}

// Keyword returns the first forbidden keyword found, or "".
func Keyword(sql string) string {
	return dmlPattern.FindString(sql)
}

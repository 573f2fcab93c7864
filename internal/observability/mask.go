package observability

import "regexp"

var (
	rePassword = regexp.MustCompile(`(?i)("?password"?\s*[:=]\s*"?)([^\s",;}]+)`)
	reBearer   = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reToken    = regexp.MustCompile(`(?i)("?token"?\s*[:=]\s*"?)([A-Za-z0-9._~+/=-]+)`)
	reDSNPass  = regexp.MustCompile(`(://)([^:/@\s]+):([^@\s]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)("?api_?key"?\s*[:=]\s*"?)([^\s",;}]+)`)
)

// Mask hides credentials in free text before it reaches a log line.
func Mask(s string) string {
	out := rePassword.ReplaceAllString(s, "${1}***")
	out = reBearer.ReplaceAllString(out, "${1}***")
	out = reToken.ReplaceAllString(out, "${1}***")
	out = reDSNPass.ReplaceAllString(out, "${1}${2}:***${4}")
	out = reAPIKey.ReplaceAllString(out, "${1}***")
	return out
}

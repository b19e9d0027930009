package audit

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Redacted replaces any value the redactor removes
const Redacted = "[REDACTED]"

// sensitiveKeys are detail keys whose values are never stored
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"totp":          true,
	"totp_code":     true,
	"authorization": true,
	"cookie":        true,
}

var secretPatterns = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`),
	// age identities
	regexp.MustCompile(`AGE-SECRET-KEY-1[0-9A-Z]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]+['"]?`),
	regexp.MustCompile(`(?i)(postgres|postgresql|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`),
}

// RedactDetails removes credentials from an entry's details. Values under
// sensitive keys are replaced outright; secret-looking substrings in other
// strings are masked. Details that are not a JSON object or array are
// returned unchanged.
func RedactDetails(details json.RawMessage) json.RawMessage {
	if len(details) == 0 {
		return details
	}

	var v interface{}
	if err := json.Unmarshal(details, &v); err != nil {
		return details
	}

	redacted, changed := redactValue(v)
	if !changed {
		return details
	}
	out, err := json.Marshal(redacted)
	if err != nil {
		return details
	}
	return out
}

func redactValue(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		changed := false
		for k, val := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				if val != Redacted {
					t[k] = Redacted
					changed = true
				}
				continue
			}
			if nv, ok := redactValue(val); ok {
				t[k] = nv
				changed = true
			}
		}
		return t, changed
	case []interface{}:
		changed := false
		for i, val := range t {
			if nv, ok := redactValue(val); ok {
				t[i] = nv
				changed = true
			}
		}
		return t, changed
	case string:
		s := t
		for _, p := range secretPatterns {
			s = p.ReplaceAllString(s, Redacted)
		}
		return s, s != t
	default:
		return v, false
	}
}

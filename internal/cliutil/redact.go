package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretKeyPattern   = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)

	userinfoPattern   = regexp.MustCompile(`(://[^:/@\s]+:)[^@/\s]+@`)
	queryParamPattern = regexp.MustCompile(`(?i)([?&](?:key|token|password|passwd|pass|passphrase|secret|auth|streamkey|stream_key|sig|signature)=)[^&#\s]+`)
	streamKeyPattern  = regexp.MustCompile(`(?i)\b(rtmps?://[^/\s'"]+/[^/\s?#'"]+/)([^/\s?#'"]+)`)
)

func secretKeys() []string {
	keys := []string{
		"STREAM_KEY",
		"STREAM_SECRET",
		"STREAM_TOKEN",
		"RTMP_KEY",
		"SRT_PASSPHRASE",
		"API_KEY",
		"ACCESS_TOKEN",
		"CLIENT_SECRET",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks template references, known secret assignments and
// credentials embedded in stream URLs within message.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(string) string {
		return "${" + redactedPlaceholder + "}"
	})
	redacted = secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
	return RedactURL(redacted)
}

// RedactURL masks the password of any userinfo, credential query parameters
// and the stream key path segment of rtmp destinations.
func RedactURL(raw string) string {
	if raw == "" {
		return raw
	}
	out := userinfoPattern.ReplaceAllString(raw, "${1}"+redactedPlaceholder+"@")
	out = queryParamPattern.ReplaceAllString(out, "${1}"+redactedPlaceholder)
	return streamKeyPattern.ReplaceAllString(out, "${1}"+redactedPlaceholder)
}

// RedactArgs returns a copy of argv with every argument passed through RedactURL.
func RedactArgs(argv []string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = RedactURL(arg)
	}
	return out
}

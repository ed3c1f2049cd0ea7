// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package sanitize redacts sensitive material from vendor API
// responses before they leave the gateway. Redaction is pure: input
// values are never mutated, a masked copy is returned.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	accessCodeMask = "********"
	tokenMask      = "***"
	redactedMark   = "***REDACTED***"
	urlMask        = "[URL_REDACTED]"
	ipMask         = "[IP_REDACTED]"
)

var (
	urlPattern = regexp.MustCompile(`(https?|ftp)://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	ipPattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// accessCodeKeys are field names that always get the fixed-width mask,
// regardless of value.
var accessCodeKeys = map[string]bool{
	"dev_access_code": true,
	"access_code":     true,
	"accesscode":      true,
}

// Sanitize recursively masks sensitive data in a decoded JSON value
// (map[string]interface{}, []interface{}, string, or primitive).
//
// Masks applied:
//   - Device access codes (dev_access_code and variants): "********"
//   - Any string field whose key contains "token": truncated via MaskToken
//   - The caller's custom token wherever it appears in string values
//   - URLs (http/https/ftp) and non-loopback IPv4 addresses in strings
//
// The custom token may be empty, in which case only the structural
// masks apply.
func Sanitize(data interface{}, customToken string) interface{} {
	switch v := data.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			keyLower := strings.ToLower(key)
			switch {
			case accessCodeKeys[keyLower]:
				result[key] = accessCodeMask
			case strings.Contains(keyLower, "token"):
				if s, ok := value.(string); ok {
					result[key] = MaskToken(s)
				} else {
					result[key] = Sanitize(value, customToken)
				}
			default:
				result[key] = Sanitize(value, customToken)
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = Sanitize(item, customToken)
		}
		return result
	case string:
		return maskStrings(v, customToken)
	default:
		return data
	}
}

// MaskToken masks a token value, keeping only the first 20 characters.
// Short values are fully replaced so a truncated prefix cannot leak a
// small secret. Masking an already-masked value returns it unchanged.
func MaskToken(token string) string {
	if len(token) < 10 {
		return tokenMask
	}
	if len(token) > 20 {
		token = token[:20]
	}
	if strings.HasSuffix(token, "...") {
		return token
	}
	return token + "..."
}

// maskStrings masks the custom token, URLs, and IP addresses in a
// string value. Loopback references (127.0.0.1, localhost) survive so
// local diagnostics stay readable.
func maskStrings(text, customToken string) string {
	if customToken != "" {
		text = strings.ReplaceAll(text, customToken, redactedMark)
	}

	text = urlPattern.ReplaceAllString(text, urlMask)

	text = ipPattern.ReplaceAllStringFunc(text, func(ip string) string {
		if strings.HasPrefix(ip, "127.0.0.1") {
			return ip
		}
		return ipMask
	})

	return text
}

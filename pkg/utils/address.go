package utils

import (
	"strings"
	"unicode"
)

const (
	GroupServer     = "g.us"
	BroadcastServer = "broadcast"
)

// DigitsOnly strips everything that is not an ASCII digit.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeAddress turns any chat identifier into the canonical chat address:
// user addresses become bare digit strings ("+55 (11) 9999" -> "55119999",
// "5511@s.whatsapp.net" and "5511:3@s.whatsapp.net" -> "5511"), group and
// broadcast ids keep their server suffix.
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}

	user, server, hasServer := strings.Cut(raw, "@")
	if hasServer && (server == GroupServer || server == BroadcastServer) {
		return user + "@" + server
	}

	// drop device suffix (user:device) and agent (user.agent)
	if i := strings.IndexAny(user, ":."); i >= 0 {
		user = user[:i]
	}
	if digits := DigitsOnly(user); digits != "" {
		return digits
	}
	return user
}

func IsGroupAddress(addr string) bool {
	return strings.HasSuffix(strings.ToLower(addr), "@"+GroupServer)
}

func IsBroadcastAddress(addr string) bool {
	addr = strings.ToLower(addr)
	return strings.HasSuffix(addr, "@"+BroadcastServer) || strings.HasPrefix(addr, "status@")
}

// FormatPhone renders a digit string for humans. Long numbers are split into
// country code, area code and subscriber ("5511999999999" -> "+55 11 99999-9999").
func FormatPhone(addr string) string {
	digits := DigitsOnly(addr)
	switch n := len(digits); {
	case n == 0:
		return strings.TrimSpace(addr)
	case n >= 12:
		return "+" + digits[:2] + " " + digits[2:4] + " " + splitSubscriber(digits[4:])
	case n >= 10:
		return "+" + digits[:2] + " " + splitSubscriber(digits[2:])
	default:
		return "+" + digits
	}
}

func splitSubscriber(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:len(s)-4] + "-" + s[len(s)-4:]
}

// FirstNonEmpty returns the first argument that has visible content.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimFunc(v, unicode.IsSpace) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D`)

// OnlyDigits strips everything that is not 0-9.
func OnlyDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// nationalDigits drops the 55 country code when what remains is a full
// national number (DDD + 8 or 9 digits).
func nationalDigits(digits string) string {
	if strings.HasPrefix(digits, "55") && (len(digits) == 12 || len(digits) == 13) {
		return digits[2:]
	}
	return digits
}

// FormatPhoneNumber renders a Brazilian number as (DD) 9XXXX-XXXX or
// (DD) XXXX-XXXX. Input it cannot recognize is returned unchanged.
func FormatPhoneNumber(phone string) string {
	d := nationalDigits(OnlyDigits(phone))
	switch len(d) {
	case 11:
		return fmt.Sprintf("(%s) %s-%s", d[0:2], d[2:7], d[7:11])
	case 10:
		return fmt.Sprintf("(%s) %s-%s", d[0:2], d[2:6], d[6:10])
	}
	return phone
}

// ValidateBrazilianPhone accepts 10 to 13 digits: a national number with
// DDD, optionally prefixed by the 55 country code.
func ValidateBrazilianPhone(phone string) bool {
	d := OnlyDigits(phone)
	if len(d) < 10 || len(d) > 13 {
		return false
	}
	if len(d) >= 12 {
		if !strings.HasPrefix(d, "55") {
			return false
		}
		d = d[2:]
	}
	if len(d) != 10 && len(d) != 11 {
		return false
	}
	if d[0] == '0' || d[1] == '0' {
		return false
	}
	if len(d) == 11 && d[2] != '9' {
		return false
	}
	return true
}

// NormalizePhone returns the number as the gateway expects it: digits only
// with the 55 country code.
func NormalizePhone(phone string) string {
	d := nationalDigits(OnlyDigits(phone))
	if len(d) == 10 || len(d) == 11 {
		return "55" + d
	}
	return d
}

// PhoneFromJID extracts the number from a WhatsApp JID such as
// 5511987654321@s.whatsapp.net.
func PhoneFromJID(jid string) string {
	if i := strings.IndexAny(jid, "@:"); i >= 0 {
		jid = jid[:i]
	}
	return OnlyDigits(jid)
}

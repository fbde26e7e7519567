package helper

import (
	"errors"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	ErrInvalidPhone = errors.New("invalid phone number")

	validPhoneFormat = regexp.MustCompile(`^[\d\s\+\-\(\)\.]+$`)
	nonDigit         = regexp.MustCompile(`[^\d]`)
)

// NormalizeRecipient turns what a caller typed into a messaging address.
// Full JIDs ("...@s.whatsapp.net", "...@g.us") pass through; bare numbers
// are stripped of formatting and a local number with a leading 0 gets the
// default country code.
func NormalizeRecipient(recipient, defaultCountryCode string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.JID{}, ErrInvalidPhone
	}

	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil || jid.User == "" {
			return types.JID{}, ErrInvalidPhone
		}
		return jid, nil
	}

	if !validPhoneFormat.MatchString(recipient) {
		return types.JID{}, ErrInvalidPhone
	}

	cleaned := nonDigit.ReplaceAllString(recipient, "")

	if strings.HasPrefix(cleaned, "00") {
		cleaned = cleaned[2:]
	} else if strings.HasPrefix(cleaned, "0") && defaultCountryCode != "" {
		cleaned = defaultCountryCode + cleaned[1:]
	}

	if len(cleaned) < 8 || len(cleaned) > 15 {
		return types.JID{}, ErrInvalidPhone
	}

	return types.NewJID(cleaned, types.DefaultUserServer), nil
}

func ExtractPhoneFromJID(jid string) string {
	// "5511999999999:43@s.whatsapp.net" -> "5511999999999"
	atSplit := strings.SplitN(jid, "@", 2)
	beforeAt := atSplit[0]
	colonSplit := strings.SplitN(beforeAt, ":", 2)
	return colonSplit[0]
}

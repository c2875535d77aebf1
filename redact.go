package tally

import (
	"regexp"

	"github.com/bytedance/sonic"
)

// MaskToken replaces redacted values.
const MaskToken = "*****"

var (
	jsonPasswordPattern = regexp.MustCompile(`"password"\s*:\s*"(?:[^"\\]|\\.)*"`)
	// Matches a password inside a JSON document that was itself encoded as a JSON string,
	// where every quote of the inner document is escaped.
	nestedPasswordPattern = regexp.MustCompile(`\\"password\\"\s*:\s*\\"(?:[^"\\]|\\\\\\["\\]|\\\\?[^"\\])*\\"`)
	formPasswordPattern   = regexp.MustCompile(`password=[^&\s"]*`)

	jsonPasswordReplaced   = `"password": "` + MaskToken + `"`
	nestedPasswordReplaced = `\"password\": \"` + MaskToken + `\"`
	formPasswordReplaced   = `password=` + MaskToken
)

// Redact serializes body and masks password values in it. Strings and byte slices are
// used as-is; any other value is encoded as JSON first. The key literal is matched
// case-sensitively, in JSON (`"password": "..."`), escaped JSON (`\"password\": \"...\"`)
// and form (`password=...`) shape.
func Redact(body any) string {
	var text string
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		text = b
	case []byte:
		text = string(b)
	default:
		encoded, err := sonic.MarshalString(b)
		if err != nil {
			return ""
		}
		text = encoded
	}
	text = nestedPasswordPattern.ReplaceAllLiteralString(text, nestedPasswordReplaced)
	text = jsonPasswordPattern.ReplaceAllLiteralString(text, jsonPasswordReplaced)
	return formPasswordPattern.ReplaceAllLiteralString(text, formPasswordReplaced)
}

package messaging

import "github.com/tidwall/gjson"

// IsMachinePayload reports whether the content is a structured JSON
// payload rather than a human message. Bots and payment services push
// receipts and offers through the DM kinds; those carry a JSON object
// with well-known top-level keys and should not surface in a thread.
func IsMachinePayload(content string, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return false
	}
	for _, marker := range markers {
		if parsed.Get(marker).Exists() {
			return true
		}
	}
	return false
}

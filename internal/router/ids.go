package router

import (
	"github.com/google/uuid"
)

// Sender ids that can never originate a message.
var reservedSenders = map[string]struct{}{
	"":                {},
	"system":          {},
	uuid.Nil.String(): {},
}

func isReservedSender(id string) bool {
	_, ok := reservedSenders[id]
	return ok
}

// canonicalID parses id in any form uuid accepts (upper case, braces,
// urn:uuid:) and returns the lower-case hyphenated form the store and the
// registry are keyed by.
func canonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func newMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

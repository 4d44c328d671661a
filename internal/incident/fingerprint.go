package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable identity hash for an incident. The feeds
// carry no persistent IDs, so the fields that make an incident recognizable
// to a human ARE the identity: any change to one of them is a new incident,
// not an update. Whitespace and case are normalized first so formatting
// noise in the upstream HTML does not mint spurious new fingerprints.
//
// Field order is fixed: source, agency, reported time, description, street,
// cross streets. Never reorder; every stored fingerprint depends on it.
func Fingerprint(inc Incident) string {
	key := strings.Join([]string{
		string(inc.Source),
		canonical(inc.Agency),
		canonical(inc.ReportedTime),
		canonical(inc.Description),
		canonical(inc.Street),
		canonical(inc.CrossStreets),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// canonical collapses runs of whitespace and uppercases the value.
func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

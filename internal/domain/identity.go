package domain

import "strings"

// GroupPrefix namespaces the live channel group of a notification recipient.
const GroupPrefix = "notifications_"

var groupReplacer = strings.NewReplacer("@", "_at_", ".", "_dot_")

// NormalizeIdentity is the single case/whitespace normalization applied to
// every identity (email address) before it is used as a presence key or
// turned into a group name. Addresses are compared case-insensitively.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// GroupName derives the live channel group for an identity:
// "notifications_" + the normalized address with "@" -> "_at_" and "." -> "_dot_".
func GroupName(identity string) string {
	return GroupPrefix + groupReplacer.Replace(NormalizeIdentity(identity))
}

// Package toolname maps between a tool's globally-unique slug
// ("server__tool") and its native name as exposed by its own server.
// Multiple upstream servers may expose tools with colliding native
// names, so the gateway always lists slugs and resolves back to the
// native name before dispatch.
package toolname

import "strings"

// Separator joins the normalized server name and tool name in a slug.
const Separator = "__"

// Normalize lowercases a name and replaces spaces with underscores.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Slugify builds the globally-unique name for a tool:
// normalize(server) + "__" + normalize(tool).
func Slugify(serverName, toolName string) string {
	return Normalize(serverName) + Separator + Normalize(toolName)
}

// Unslugify recovers the native tool name from a slug. If serverName is
// non-empty and the slug carries that server's prefix, the prefix is
// stripped. Otherwise the slug is split on the LAST "__" — server names
// may themselves contain "__", tool name suffixes win. A slug with no
// separator is returned unchanged.
func Unslugify(slug, serverName string) string {
	if serverName != "" {
		prefix := Normalize(serverName) + Separator
		if strings.HasPrefix(slug, prefix) {
			return strings.TrimPrefix(slug, prefix)
		}
	}
	idx := strings.LastIndex(slug, Separator)
	if idx < 0 {
		return slug
	}
	return slug[idx+len(Separator):]
}

// HasServerPrefix reports whether slug is addressed to the given server.
func HasServerPrefix(slug, serverName string) bool {
	return strings.HasPrefix(slug, Normalize(serverName)+Separator)
}

package objectstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DocumentsPrefix      = "uploads"
	AuthorizationsPrefix = "authorizations"
)

var stampStrip = strings.NewReplacer("-", "", ":", "", ".", "", "T", "", "Z", "")

var (
	ownerUnsafe = regexp.MustCompile(`[^a-z0-9._-]`)
	nameUnsafe  = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// OwnerKey folds a client username into the path segment used for its
// objects.
func OwnerKey(username string) string {
	return ownerUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(username)), "_")
}

// SafeName replaces everything outside [a-zA-Z0-9._-] with "_".
func SafeName(name string) string {
	return nameUnsafe.ReplaceAllString(name, "_")
}

// Timestamp renders t as the compact UTC stamp prefixed to every key,
// e.g. 20250301120405123.
func Timestamp(t time.Time) string {
	return stampStrip.Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// DocumentPath returns uploads/<owner>/<ts>[-<n>]-<name>. n is the 1-based
// position and is only added for batches of more than one file.
func DocumentPath(ownerKey, ts string, n, total int, name string) string {
	return objectPath(DocumentsPrefix, ownerKey, ts, n, total, name)
}

// AuthorizationPath returns authorizations/<owner>/<ts>[-<n>]-<name>, with
// the same batch ordinal as DocumentPath.
func AuthorizationPath(ownerKey, ts string, n, total int, name string) string {
	return objectPath(AuthorizationsPrefix, ownerKey, ts, n, total, name)
}

func objectPath(prefix, ownerKey, ts string, n, total int, name string) string {
	suffix := ""
	if total > 1 {
		suffix = fmt.Sprintf("-%d", n)
	}
	return fmt.Sprintf("%s/%s/%s%s-%s", prefix, ownerKey, ts, suffix, SafeName(name))
}

// OwnerPrefixes returns the document and authorization prefixes of an owner.
func OwnerPrefixes(ownerKey string) (documents, authorizations string) {
	return DocumentsPrefix + "/" + ownerKey, AuthorizationsPrefix + "/" + ownerKey
}

// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// GlobalBucket is the bucket shared across all tenants for deduplicated
// scene storage.
const GlobalBucket = "cropsight-global"

const bucketPrefix = "cropsight-"

var invalidBucketChars = regexp.MustCompile(`[^a-z0-9-]`)
var repeatedHyphens = regexp.MustCompile(`-+`)

// TenantBucket derives the bucket name for a tenant deterministically, so a
// tenant can never choose or collide with another tenant's bucket.
//
// The result satisfies S3 naming rules: lowercase alphanumeric plus hyphen,
// 3 to 63 characters, no leading or trailing hyphen.
func TenantBucket(tenantID string) string {
	sanitized := invalidBucketChars.ReplaceAllString(strings.ToLower(tenantID), "")
	sanitized = repeatedHyphens.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		sanitized = "default"
	}

	name := bucketPrefix + sanitized
	if len(name) > 63 {
		// distinct tenants sanitizing to the same long prefix must not share
		// a bucket, so a digest of the original id disambiguates
		sum := sha256.Sum256([]byte(tenantID))
		suffix := hex.EncodeToString(sum[:4])
		name = bucketPrefix + sanitized[:63-len(bucketPrefix)-len(suffix)-1] + "-" + suffix
	}
	return name
}

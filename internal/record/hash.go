package record

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// domainPublicID separates public-id hashing from other uses of blake3.
const domainPublicID = "radstore/public-id/v1"

// PublicID derives the externally stable identifier of the resource at
// level from the record's identifying attributes. The result is 40 hex
// digits in five dash-separated groups.
func PublicID(attrs Attributes, level Level) string {
	h := blake3.New()
	h.Write([]byte(domainPublicID))
	h.Write([]byte{0x00})
	h.Write([]byte(level.String()))
	for _, v := range attrs.Ancestry(level) {
		h.Write([]byte{0x00})
		h.Write([]byte(v))
	}
	digest := hex.EncodeToString(h.Sum(nil)[:20])

	groups := make([]string, 0, 5)
	for i := 0; i < len(digest); i += 8 {
		groups = append(groups, digest[i:i+8])
	}
	return strings.Join(groups, "-")
}

// PublicIDs returns the public ids of the whole chain, patient first.
func PublicIDs(attrs Attributes) [4]string {
	var ids [4]string
	for _, l := range Levels {
		ids[l] = PublicID(attrs, l)
	}
	return ids
}

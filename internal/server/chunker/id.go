package chunker

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

const idPrefix = "c"

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ID is the parsed form of a chunk storage key.
type ID struct {
	Owner  string
	FileID string
	Index  int
	Hash   string
}

// ChunkID builds the storage key of a chunk:
//
//	c/<path-escaped owner>/<file id>/<index, 8 digits>/<sha256>
//
// Owner, file and index keep keys of different users and files apart; the
// hash ties the key to the exact content.
func ChunkID(owner, fileID string, index int, hash string) string {
	return fmt.Sprintf("%s/%s/%s/%08d/%s", idPrefix, url.PathEscape(owner), url.PathEscape(fileID), index, hash)
}

// String is the storage key of id.
func (id ID) String() string {
	return ChunkID(id.Owner, id.FileID, id.Index, id.Hash)
}

// ParseChunkID reverses ChunkID.
func ParseChunkID(key string) (ID, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != idPrefix {
		return ID{}, fmt.Errorf("%w: malformed chunk id %q", common.ErrValidation, key)
	}

	owner, err := url.PathUnescape(parts[1])
	if err != nil || owner == "" {
		return ID{}, fmt.Errorf("%w: bad owner in chunk id %q", common.ErrValidation, key)
	}
	fileID, err := url.PathUnescape(parts[2])
	if err != nil || fileID == "" {
		return ID{}, fmt.Errorf("%w: bad file id in chunk id %q", common.ErrValidation, key)
	}
	if len(parts[3]) < 8 {
		return ID{}, fmt.Errorf("%w: bad index in chunk id %q", common.ErrValidation, key)
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil || index < 0 {
		return ID{}, fmt.Errorf("%w: bad index in chunk id %q", common.ErrValidation, key)
	}
	if !hashRe.MatchString(parts[4]) {
		return ID{}, fmt.Errorf("%w: bad hash in chunk id %q", common.ErrValidation, key)
	}

	return ID{Owner: owner, FileID: fileID, Index: index, Hash: parts[4]}, nil
}

// OwnedBy reports whether key is a well-formed chunk id belonging to owner.
func OwnedBy(key, owner string) bool {
	id, err := ParseChunkID(key)
	return err == nil && id.Owner == owner
}

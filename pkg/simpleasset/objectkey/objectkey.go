package objectkey

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ShardLength is the number of leading hash characters used as a directory.
const ShardLength = 2

const rootPrefix = "owners"

// ErrInvalidName is returned when a stored name does not follow the layout.
var ErrInvalidName = errors.New("invalid stored name")

// SniffLength is how many leading bytes ExtensionFor looks at.
const SniffLength = 512

// FallbackExt is used for empty content and bytes of no recognised type.
const FallbackExt = "bin"

// Sniffed content types and the extension stored for each.
var extByType = map[string]string{
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/bmp":                "bmp",
	"application/pdf":          "pdf",
	"application/zip":          "zip",
	"application/x-gzip":       "gz",
	"application/json":         "json",
	"text/plain":               "txt",
	"text/html":                "html",
	"text/xml":                 "xml",
	"audio/mpeg":               "mp3",
	"video/mp4":                "mp4",
	"application/octet-stream": FallbackExt,
}

var typeByExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"json": "application/json",
	"txt":  "text/plain; charset=utf-8",
	"html": "text/html; charset=utf-8",
	"xml":  "text/xml; charset=utf-8",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
}

// Parts is a decoded stored name.
type Parts struct {
	OwnerID uuid.UUID
	Hash    string
	Ext     string
}

// StoredName derives the stable stored name for a piece of content:
//
//	owners/<owner>/<hash[0:2]>/<hash>.<ext>
//
// The same owner, hash and extension always give the same name.
func StoredName(ownerID uuid.UUID, hash, ext string) string {
	shard := hash
	if len(hash) > ShardLength {
		shard = hash[:ShardLength]
	}
	filename := hash
	if ext != "" {
		filename = hash + "." + ext
	}
	return path.Join(rootPrefix, ownerID.String(), shard, filename)
}

// OwnerPrefix returns the namespace that every stored name of ownerID starts with.
func OwnerPrefix(ownerID uuid.UUID) string {
	return rootPrefix + "/" + ownerID.String() + "/"
}

// Parse splits a stored name back into its parts.
func Parse(name string) (Parts, error) {
	segs := strings.Split(name, "/")
	if len(segs) != 4 || segs[0] != rootPrefix {
		return Parts{}, ErrInvalidName
	}
	owner, err := uuid.Parse(segs[1])
	if err != nil {
		return Parts{}, fmt.Errorf("%w: owner: %v", ErrInvalidName, err)
	}
	hash, ext, _ := strings.Cut(segs[3], ".")
	if hash == "" || !strings.HasPrefix(hash, segs[2]) {
		return Parts{}, ErrInvalidName
	}
	return Parts{OwnerID: owner, Hash: hash, Ext: ext}, nil
}

// ExtensionFor picks the stored extension from the first bytes of the
// content. Identical content always yields the same extension, so an owner's
// stored name depends only on the content hash.
func ExtensionFor(head []byte) string {
	if len(head) == 0 {
		return FallbackExt
	}
	if len(head) > SniffLength {
		head = head[:SniffLength]
	}
	mediaType, _, _ := strings.Cut(http.DetectContentType(head), ";")
	if ext, ok := extByType[strings.TrimSpace(mediaType)]; ok {
		return ext
	}
	return FallbackExt
}

// ContentType returns the media type served for a stored extension.
func ContentType(ext string) string {
	if ct, ok := typeByExt[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

package ident

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ir"
)

// Algorithm names a content hash. All peers must share it.
type Algorithm string

const (
	// MD5 is the pool's historical identifier hash.
	MD5 Algorithm = "md5"

	// BLAKE3 truncated to 128 bits, so ids keep the same length.
	BLAKE3 Algorithm = "blake3"
)

// ClusterMode selects the projection used for clustering.
type ClusterMode string

const (
	// ClusterIdentity clusters by the normalized text itself.
	ClusterIdentity ClusterMode = "identity"

	// ClusterFold ignores accents, punctuation and case.
	ClusterFold ClusterMode = "fold"
)

// IDLength is the length of every identifier and checksum.
const IDLength = 32

// Config selects the identity functions of a pool.
type Config struct {
	Algorithm Algorithm
	Cluster   ClusterMode
}

// Engine computes identifiers, cluster keys and checksums.
// It is stateless and safe for concurrent use.
type Engine struct {
	algorithm Algorithm
	cluster   ClusterMode
}

// New creates an Engine. Empty fields take the defaults (MD5, identity).
func New(cfg Config) (*Engine, error) {
	e := &Engine{algorithm: cfg.Algorithm, cluster: cfg.Cluster}
	if e.algorithm == "" {
		e.algorithm = MD5
	}
	if e.cluster == "" {
		e.cluster = ClusterIdentity
	}
	switch e.algorithm {
	case MD5, BLAKE3:
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", cfg.Algorithm)
	}
	switch e.cluster {
	case ClusterIdentity, ClusterFold:
	default:
		return nil, fmt.Errorf("unknown cluster mode %q", cfg.Cluster)
	}
	return e, nil
}

// Default returns the engine every pool uses unless configured otherwise.
func Default() *Engine {
	return &Engine{algorithm: MD5, cluster: ClusterIdentity}
}

// Algorithm returns the configured hash algorithm.
func (e *Engine) Algorithm() Algorithm { return e.algorithm }

// ClusterMode returns the configured cluster mode.
func (e *Engine) ClusterMode() ClusterMode { return e.cluster }

// IdentifierOf returns the content address of text after normalization.
func (e *Engine) IdentifierOf(text string) string {
	return e.sum([]byte(Normalize(text)))
}

// ClusterKeyOf returns the clustering key of text.
func (e *Engine) ClusterKeyOf(text string) string {
	key := Normalize(text)
	if e.cluster == ClusterFold {
		key = fold(key)
	}
	return key
}

// ClusterIDOf returns the content address of the cluster key of text.
func (e *Engine) ClusterIDOf(text string) string {
	return e.sum([]byte(e.ClusterKeyOf(text)))
}

// ChecksumOf returns the hash of the canonical serialization of a
// structured blob. An empty blob has an empty checksum.
func (e *Engine) ChecksumOf(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	canonical, err := codec.Canonicalize(blob)
	if err != nil {
		return "", err
	}
	return e.sum(canonical), nil
}

// Derive normalizes rec.PlainText and sets ID and ClusterID from it.
func (e *Engine) Derive(rec *ir.Record) {
	rec.PlainText = Normalize(rec.PlainText)
	rec.ID = e.sum([]byte(rec.PlainText))
	rec.ClusterID = e.ClusterIDOf(rec.PlainText)
}

// ValidID reports whether s looks like an identifier of this pool.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}

func (e *Engine) sum(data []byte) string {
	switch e.algorithm {
	case BLAKE3:
		s := blake3.Sum256(data)
		return strings.ToUpper(hex.EncodeToString(s[:IDLength/2]))
	default:
		s := md5.Sum(data)
		return strings.ToUpper(hex.EncodeToString(s[:]))
	}
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold strips diacritics and punctuation and lowercases.
func fold(s string) string {
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

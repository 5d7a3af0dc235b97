// Package blob stores structured representations outside the record table.
//
// Blobs are addressed by record id and laid out in two directory levels:
//
//	<root>/<id[0:2]>/<id[2:4]>/<id>.blob
//
// Overwriting a blob keeps the previous version next to it as
// <id>.<millis>.blob. Each file is a CBOR envelope holding the optionally
// compressed payload and its raw size.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/stringpool/internal/ir"
)

const (
	extension       = ".blob"
	envelopeVersion = 1
)

// envelope is the on-disk format of a blob file.
type envelope struct {
	Version     uint8       `cbor:"v"`
	Compression Compression `cbor:"c"`
	Size        int         `cbor:"n"`
	Data        []byte      `cbor:"d"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("blob: cbor encoder initialization failed: " + err.Error())
	}
}

// Store is a directory of blobs. Writes of one id must be serialized by
// the caller; writes of different ids may run concurrently.
type Store struct {
	root        string
	compression Compression
	now         func() time.Time
}

// Open creates the root directory if needed and returns a Store that
// compresses new blobs with c.
func Open(root string, c Compression) (*Store, error) {
	if c > CompressionZstd {
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &Store{root: root, compression: c, now: time.Now}, nil
}

// Root returns the root directory.
func (s *Store) Root() string { return s.root }

// Put stores data for id. An identical existing blob is left untouched;
// a different one is renamed aside first.
func (s *Store) Put(id string, data []byte) error {
	st, err := s.Stage(id, data)
	if err != nil {
		return err
	}
	return st.Commit()
}

// Staged is a blob written to a temporary file next to its final path.
// Get does not see it until Commit.
type Staged struct {
	s    *Store
	id   string
	path string
	tmp  string
	done bool
}

// Stage writes data for id without making it visible. It returns nil when
// the stored blob already holds data. Commit and Discard accept nil.
func (s *Store) Stage(id string, data []byte) (*Staged, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	if existing, err := s.Get(id); err == nil {
		if bytes.Equal(existing, data) {
			return nil, nil
		}
	} else if !ir.IsNotFound(err) {
		return nil, err
	}

	payload, applied, err := compress(data, s.compression)
	if err != nil {
		return nil, ir.Transient("blob.put", err)
	}
	encoded, err := encMode.Marshal(envelope{
		Version:     envelopeVersion,
		Compression: applied,
		Size:        len(data),
		Data:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode blob envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ir.Transient("blob.put", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+id+"-*")
	if err != nil {
		return nil, ir.Transient("blob.put", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, ir.Transient("blob.put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, ir.Transient("blob.put", err)
	}
	return &Staged{s: s, id: id, path: path, tmp: tmp.Name()}, nil
}

// Commit moves the current blob aside as a previous version and puts the
// staged one in its place.
func (st *Staged) Commit() error {
	if st == nil || st.done {
		return nil
	}
	st.done = true
	if _, err := os.Stat(st.path); err == nil {
		old := strings.TrimSuffix(st.path, extension) + fmt.Sprintf(".%d", st.s.now().UnixMilli()) + extension
		if err := os.Rename(st.path, old); err != nil {
			os.Remove(st.tmp)
			return ir.Transient("blob.put", fmt.Errorf("keep previous version: %w", err))
		}
	}
	if err := os.Rename(st.tmp, st.path); err != nil {
		os.Remove(st.tmp)
		return ir.Transient("blob.put", err)
	}
	return nil
}

// Discard removes an uncommitted staged blob. It is a no-op after Commit.
func (st *Staged) Discard() {
	if st == nil || st.done {
		return
	}
	st.done = true
	os.Remove(st.tmp)
}

// Get returns the blob stored for id, or a NOT_FOUND error.
func (s *Store) Get(id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return readFile(path, id)
}

// Exists reports whether a blob is stored for id.
func (s *Store) Exists(id string) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Versions returns the timestamps (epoch millis) of the previous versions
// kept for id, oldest first.
func (s *Store) Versions(id string) ([]int64, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), id+".*"+extension))
	if err != nil {
		return nil, err
	}
	versions := []int64{}
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), id+"."), extension)
		var ms int64
		if _, err := fmt.Sscanf(stamp, "%d", &ms); err == nil {
			versions = append(versions, ms)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// GetVersion returns a previous version of a blob.
func (s *Store) GetVersion(id string, millis int64) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return readFile(strings.TrimSuffix(path, extension)+fmt.Sprintf(".%d", millis)+extension, id)
}

func readFile(path, id string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.NewNotFoundError("blob.get", id)
	}
	if err != nil {
		return nil, ir.Transient("blob.get", err)
	}
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, ir.NewDecodeError("blob.get", "corrupt blob "+id, err)
	}
	if env.Version != envelopeVersion {
		return nil, ir.NewDecodeError("blob.get", fmt.Sprintf("unsupported blob version %d", env.Version), nil)
	}
	data, err := decompress(env.Data, env.Compression, env.Size)
	if err != nil {
		return nil, ir.NewDecodeError("blob.get", "corrupt blob "+id, err)
	}
	return data, nil
}

func (s *Store) path(id string) (string, error) {
	if len(id) < 4 || strings.ContainsAny(id, `/\.`) {
		return "", ir.NewInvariantError("blob.path", id, "invalid blob id")
	}
	return filepath.Join(s.root, id[0:2], id[2:4], id+extension), nil
}

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
)

func TestNew_Defaults(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, MD5, e.Algorithm())
	assert.Equal(t, ClusterIdentity, e.ClusterMode())
}

func TestNew_RejectsUnknown(t *testing.T) {
	_, err := New(Config{Algorithm: "sha1"})
	assert.Error(t, err)

	_, err = New(Config{Cluster: "soundex"})
	assert.Error(t, err)
}

func TestIdentifierOf_MD5(t *testing.T) {
	e := Default()

	id := e.IdentifierOf("Smith, J. 2001.")
	assert.Equal(t, "C53D32FEF18A97F3B1403652DE1219CC", id)
	assert.Len(t, id, IDLength)
	assert.True(t, ValidID(id))
}

func TestIdentifierOf_NormalizesFirst(t *testing.T) {
	e := Default()

	a := e.IdentifierOf("Smith, J. 2001.")
	b := e.IdentifierOf("  Smith,\n J.   2001. ")
	assert.Equal(t, a, b)

	assert.Equal(t, e.IdentifierOf("O'Brien - example"), e.IdentifierOf("O’Brien – example"))
	assert.Equal(t, "7043E919302936F1AF7E0ABF4844F4AD", e.IdentifierOf("O’Brien – example"))
}

func TestIdentifierOf_BLAKE3(t *testing.T) {
	e, err := New(Config{Algorithm: BLAKE3})
	require.NoError(t, err)

	id := e.IdentifierOf("Smith, J. 2001.")
	assert.Len(t, id, IDLength)
	assert.True(t, ValidID(id))
	assert.NotEqual(t, Default().IdentifierOf("Smith, J. 2001."), id)
	assert.Equal(t, id, e.IdentifierOf("Smith, J.  2001."))
}

func TestClusterKeyOf(t *testing.T) {
	identity := Default()
	assert.Equal(t, "Müller, J.", identity.ClusterKeyOf(" Müller,  J."))

	fold, err := New(Config{Cluster: ClusterFold})
	require.NoError(t, err)
	assert.Equal(t, "muller j", fold.ClusterKeyOf(" Müller,  J."))
	assert.Equal(t, fold.ClusterIDOf("MULLER J"), fold.ClusterIDOf("Müller, J."))
	assert.NotEqual(t, identity.ClusterIDOf("MULLER J"), identity.ClusterIDOf("Müller, J."))
}

func TestChecksumOf(t *testing.T) {
	e := Default()

	sum, err := e.ChecksumOf(nil)
	require.NoError(t, err)
	assert.Empty(t, sum)

	a, err := e.ChecksumOf([]byte("<bib type=\"book\"><author>Smith, J.</author> <year>2001</year></bib>"))
	require.NoError(t, err)
	b, err := e.ChecksumOf([]byte("<bib type=\"book\">\n  <author>Smith, J.</author>\n  <year>2001</year>\n</bib>"))
	require.NoError(t, err)
	assert.Equal(t, a, b, "whitespace between tags must not change the checksum")
	assert.Len(t, a, IDLength)

	c, err := e.ChecksumOf([]byte("<bib type=\"book\"><author>Smith, J.</author><year>2002</year></bib>"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = e.ChecksumOf([]byte("<bib><author></bib>"))
	assert.Error(t, err)
}

func TestDerive(t *testing.T) {
	e := Default()
	rec := ir.Record{PlainText: " Smith,  J. 2001. "}
	e.Derive(&rec)

	assert.Equal(t, "Smith, J. 2001.", rec.PlainText)
	assert.Equal(t, "C53D32FEF18A97F3B1403652DE1219CC", rec.ID)
	assert.Equal(t, rec.ID, rec.ClusterID, "identity clustering hashes the same key")
}

func TestValidID(t *testing.T) {
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("XYZ"))
	assert.False(t, ValidID("Z53D32FEF18A97F3B1403652DE1219CC"))
	assert.True(t, ValidID("c53d32fef18a97f3b1403652de1219cc"))
}

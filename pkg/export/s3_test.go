package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glytch-labs/ucp/core/pkg/ledger"
)

type capturePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (c *capturePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.input = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	c.body = data
	return &s3.PutObjectOutput{}, nil
}

func TestExportUploadsBundle(t *testing.T) {
	putter := &capturePutter{}
	e := NewS3ExporterWithClient(putter, "ucp-exports", "v1/")
	e.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	head := ledger.ChainHash(ledger.GenesisHash, "summarize this")
	sess := &ledger.Session{
		ID:        "sess-1",
		OwnerID:   "user-1",
		Status:    ledger.StatusComplete,
		ChainHash: head,
		HopCount:  1,
	}
	hops := []*ledger.Hop{{
		ID:        "hop-1",
		SessionID: "sess-1",
		HopIndex:  0,
		HopType:   ledger.HopRawPrompt,
		Content:   "summarize this",
		Hash:      head,
		PrevHash:  ledger.GenesisHash,
	}}

	res, err := e.Export(context.Background(), "user-1", sess, hops)
	require.NoError(t, err)

	assert.Equal(t, "ucp-exports", res.Bucket)
	assert.Equal(t, "ucp-exports", *putter.input.Bucket)
	assert.True(t, strings.HasPrefix(res.Key, "v1/sessions/sess-1/"))
	assert.True(t, strings.HasSuffix(res.Key, ".json"))
	assert.Equal(t, "application/json", *putter.input.ContentType)

	// Key embeds the bundle's content hash.
	sum := sha256.Sum256(putter.body)
	assert.Contains(t, res.Key, hex.EncodeToString(sum[:]))
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), res.ContentHash)
	assert.Equal(t, len(putter.body), res.SizeBytes)

	var bundle Bundle
	require.NoError(t, json.Unmarshal(putter.body, &bundle))
	assert.Equal(t, "sess-1", bundle.Session.ID)
	require.Len(t, bundle.Hops, 1)
	assert.Equal(t, "summarize this", bundle.Hops[0].Content)
	assert.True(t, bundle.ChainVerified)
	assert.Equal(t, "chain verified", bundle.ChainDetail)
	assert.Equal(t, "user-1", bundle.ExportedBy)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), bundle.ExportedAt)
}

func TestExportNilSession(t *testing.T) {
	e := NewS3ExporterWithClient(&capturePutter{}, "ucp-exports", "")
	_, err := e.Export(context.Background(), "user-1", nil, nil)
	require.Error(t, err)
}

func TestExportPutFailure(t *testing.T) {
	putter := &capturePutter{err: io.ErrUnexpectedEOF}
	e := NewS3ExporterWithClient(putter, "ucp-exports", "")
	_, err := e.Export(context.Background(), "user-1", &ledger.Session{ID: "sess-1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 put failed")
}

package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
)

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventAccess, audit.ActionCompile, "/compile", nil)
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	jsonPart := strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &event))

	assert.Equal(t, audit.EventAccess, event.Type)
	assert.Equal(t, audit.ActionCompile, event.Action)
	assert.Equal(t, "/compile", event.Resource)
	assert.Equal(t, "system", event.ActorID)
	assert.NotEmpty(t, event.ID)
	// UUID format: 8-4-4-4-12
	assert.Len(t, event.ID, 36)
}

func TestLogger_Record_CarriesPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	ctx := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "user-7"})
	meta := map[string]any{"key_prefix": "ucp_AbCdEfGh...", "reason": "REVOKED"}
	require.NoError(t, logger.Record(ctx, audit.EventSecurity, audit.ActionKeyRejected, "/sign", meta))

	jsonPart := strings.TrimPrefix(buf.String(), "AUDIT: ")
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(jsonPart)), &event))

	assert.Equal(t, "user-7", event.ActorID)
	assert.Equal(t, "REVOKED", event.Metadata["reason"])
}

func TestNopDiscards(t *testing.T) {
	logger := audit.Nop()
	assert.NoError(t, logger.Record(context.Background(), audit.EventSystem, "startup", "", nil))
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/note/constants"
)

func TestLogging_ServiceFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	SetupLogTo(buf, "note-test", true)
	defer log.SetLevel(log.InfoLevel)

	ctx := WithFields(context.Background(), log.Fields{cst.LogFieldRequestID: "r1"})
	ctx = WithFields(ctx, log.Fields{cst.LogFieldPrincipal: "alice"})
	FromContext(ctx).Debug("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "note-test", line["service"])
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "r1", line[cst.LogFieldRequestID])
	assert.Equal(t, "alice", line[cst.LogFieldPrincipal])
	assert.Contains(t, line[cst.LogFieldFuncName], "TestLogging_ServiceFormatter")
	assert.NotNil(t, line["epochTimeMillis"])
}

func TestLogging_WithFieldsDoesNotLeak(t *testing.T) {
	parent := WithFields(context.Background(), log.Fields{"a": 1})
	_ = WithFields(parent, log.Fields{"b": 2})
	fs := parent.Value(fieldsKey{}).(log.Fields)
	assert.Equal(t, log.Fields{"a": 1}, fs)
}

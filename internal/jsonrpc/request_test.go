package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchRequest(t *testing.T) {
	reqs, isBatch, err := ParseBatchRequest([]byte(`  {"jsonrpc":"2.0","method":"Query#get","params":{"path":"/a"},"id":1}`))
	require.NoError(t, err)
	assert.False(t, isBatch)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Query#get", reqs[0].Method)
	require.NoError(t, reqs[0].Validate())

	var params struct {
		Path string `json:"path"`
	}
	require.NoError(t, reqs[0].ParamsAs(&params))
	assert.Equal(t, "/a", params.Path)

	reqs, isBatch, err = ParseBatchRequest([]byte(`[{"jsonrpc":"2.0","method":"a","id":"x"},{"jsonrpc":"2.0","method":"b"}]`))
	require.NoError(t, err)
	assert.True(t, isBatch)
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].IsNotification())

	_, _, err = ParseBatchRequest([]byte(`[]`))
	assert.Error(t, err)
	_, _, err = ParseBatchRequest([]byte(`{`))
	assert.Error(t, err)
}

func TestRequest_Validate(t *testing.T) {
	assert.Error(t, (&Request{JSONRPC: "1.0", Method: "x"}).Validate())
	assert.Error(t, (&Request{JSONRPC: Version}).Validate())
	assert.Error(t, (&Request{JSONRPC: Version, Method: "x"}).ParamsAs(&struct{}{}))
}

func TestNotificationAndResponse(t *testing.T) {
	n, err := NewNotification(MethodChannelEvent, map[string]any{"channel": "c"})
	require.NoError(t, err)
	data, err := n.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"EventChannel#event","params":{"channel":"c"}}`, string(data))

	resp, err := NewResponse(NewIDInt(7), true)
	require.NoError(t, err)
	data, err = resp.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":true,"id":7}`, string(data))

	errResp := NewErrorResponse(NewIDString("a"), NewErrorWithData(CodeInvalidParams, "bad", map[string]string{"field": "path"}))
	data, err = errResp.Bytes()
	require.NoError(t, err)
	parsed, err := ParseResponse(data)
	require.NoError(t, err)
	assert.True(t, parsed.HasError())
	assert.Equal(t, CodeInvalidParams, parsed.Error.Code)
}

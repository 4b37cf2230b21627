package executor

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_SuccessStatuses(t *testing.T) {
	for status := 200; status < 300; status++ {
		data, err := Classify(status, []byte(`{"id":"abc"}`), "create_thing")
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, map[string]any{"id": "abc"}, data)
	}
}

func TestClassify_InvalidJSON(t *testing.T) {
	data, err := Classify(200, []byte("<html>"), "get_meta")
	assert.Nil(t, data)
	require.Error(t, err)
	assert.Equal(t, "Invalid JSON response in get_meta", err.Error())
}

func TestClassify_FailureStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{400, "op failed: Bad Request (400)"},
		{401, "op failed: Unauthorized (401)"},
		{403, "op failed: Forbidden (403)"},
		{404, "op failed: Not Found (404)"},
		{429, "op failed: Too Many Requests (429)"},
		{500, "op failed: Internal Server Error (500)"},
		{502, "op failed: Unknown Error (502)"},
		{302, "op failed: Unknown Error (302)"},
		{0, "op failed: Unknown Error (0)"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			data, err := Classify(tt.status, []byte(`{"ok":true}`), "op")
			assert.Nil(t, data)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}

func TestClassify_MessageContainsOpAndCode(t *testing.T) {
	for _, status := range []int{100, 199, 300, 399, 418, 503, 599} {
		_, err := Classify(status, nil, "rename_conversation")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "rename_conversation"))
		assert.True(t, strings.Contains(err.Error(), strconv.Itoa(status)))
	}
}

package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeBands(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int64
	}{
		{LocalServiceError, 10001},
		{IncompatibleIterable, 10009},
		{TraceCorrupted, 20001},
		{FoldStateCorrupted, 20015},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, int64(tt.code))
		})
	}

	for code := range codeNames {
		switch {
		case code <= IncompatibleIterable:
			assert.True(t, code > 10000 && code < 20000, "%s is outside the catchable band", code)
			assert.True(t, IsCatchable(catchable(code, "x")))
		default:
			assert.True(t, code > 20000 && code < 30000, "%s is outside the uncatchable band", code)
			assert.True(t, IsUncatchable(uncatchable(code, "x")))
		}
	}
}

package response

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeHelpers(t *testing.T) {
	ok := OKT(map[string]int{"balance": 3})
	require.Equal(t, APIResponseCodeOK, ok.Code)
	require.Equal(t, "ok", ok.Message)
	require.Equal(t, 3, ok.Data["balance"])

	e := ErrorT[any](APIResponseCodeConflict, nil)
	require.Equal(t, "conflict", e.Message)

	m := ErrorMsg(APIResponseCodeForbidden, "monthly video limit reached")
	require.Equal(t, APIResponseCodeForbidden, m.Code)
	require.Equal(t, "monthly video limit reached", m.Message)
	require.Equal(t, "not found", ErrorMsg(APIResponseCodeNotFound, "").Message)
}

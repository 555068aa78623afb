package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	require.Equal(t, "unified", KindUnified.String())
	require.Equal(t, "legacy", KindLegacy.String())
	require.Equal(t, "Kind(0)", Kind(0).String())
	require.False(t, Kind(0).IsAKind())
	require.Equal(t, []Kind{KindUnified, KindLegacy}, KindValues())

	k, err := KindString("Legacy")
	require.NoError(t, err)
	require.Equal(t, KindLegacy, k)
	_, err = KindString("websocket")
	require.Error(t, err)

	byt, err := json.Marshal(map[string]Kind{"kind": KindUnified})
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"unified"}`, string(byt))

	var out struct{ Kind Kind }
	require.NoError(t, json.Unmarshal([]byte(`{"Kind":"legacy"}`), &out))
	require.Equal(t, KindLegacy, out.Kind)
}

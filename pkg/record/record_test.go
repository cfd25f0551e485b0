package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMX_JSON(t *testing.T) {
	r := require.New(t)

	b, err := json.Marshal(MX{Preference: 10, Exchange: "mail.example.com"})
	r.NoError(err)
	r.JSONEq(`[10, "mail.example.com"]`, string(b))

	var mx MX
	r.NoError(json.Unmarshal([]byte(`[5, "mx.example.org"]`), &mx))
	r.Equal(uint16(5), mx.Preference)
	r.Equal("mx.example.org", mx.Exchange)

	r.Error(json.Unmarshal([]byte(`{"preference": 5}`), &mx))
	r.Error(json.Unmarshal([]byte(`["mx.example.org", 5]`), &mx))
}

func TestIsReservedDNSKey(t *testing.T) {
	r := require.New(t)
	for _, key := range []string{KeyDNSCname, KeyDNSA, KeyDNSAaaa, KeyDNSTxt, KeyDNSMx} {
		r.True(IsReservedDNSKey(key))
	}
	r.False(IsReservedDNSKey("30e4975d-e5e9-4a28-8b28-e09f87d4e0b2"))
	r.False(IsReservedDNSKey(""))
}

package fscan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     Kind
	}{
		{scenario: "msg port", given: `{"type":"msg","text":"10.0.0.1:22 open"}`, then: KindPort},
		{scenario: "Port type", given: `{"type":"Port","text":"10.0.0.1:3389 open"}`, then: KindPort},
		{scenario: "msg without port", given: `{"type":"msg","text":"start infoscan"}`, then: KindUnknown},
		{scenario: "msg invalid address", given: `{"type":"msg","text":"10.0.0.300:22 open"}`, then: KindUnknown},
		{scenario: "msg port out of range", given: `{"type":"msg","text":"10.0.0.1:70000 open"}`, then: KindUnknown},
		{scenario: "web title", given: `{"type":"WebTitle","text":"http://10.0.0.1 title:x"}`, then: KindWebTitle},
		{scenario: "net info", given: `{"type":"NetInfo","text":"[*]10.0.0.1"}`, then: KindNetInfo},
		{scenario: "explicit ip", given: `{"type":"Vuln","ip":"10.0.0.1","vulnerability":"MS17-010"}`, then: KindGeneric},
		{scenario: "ipv4 host", given: `{"type":"service","host":"10.0.0.1","port":22}`, then: KindGeneric},
		{scenario: "hostname host", given: `{"type":"service","host":"intranet.lab","port":22}`, then: KindUnknown},
		{scenario: "no type", given: `{"ip":"10.0.0.1"}`, then: KindGeneric},
		{scenario: "empty", given: `{}`, then: KindUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var r record
			require.NoError(t, json.Unmarshal([]byte(tc.given), &r))
			require.Equal(t, tc.then, classify(r).Kind())
		})
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	require.Equal(t, "port", KindPort.String())
	require.Equal(t, "webtitle", KindWebTitle.String())
	require.Equal(t, "netinfo", KindNetInfo.String())
	require.Equal(t, "generic", KindGeneric.String())
	require.Equal(t, "unknown", KindUnknown.String())
	require.Equal(t, "unknown", Kind(42).String())
}

func TestLooksLikeIP(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given string
		then  bool
	}{
		{given: "10.129.244.72", then: true},
		{given: "10.129.244.72/24", then: true},
		{given: "dead:beef::1", then: true},
		{given: "fe80::1%eth0", then: true},
		{given: "::1", then: true},
		{given: "DC01", then: false},
		{given: "fries.htb", then: false},
		{given: "beef", then: false},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.then, looksLikeIP(tc.given))
		})
	}
}

func TestFlexTypes(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		thenPort int
		thenRaw  string
		thenDC   *bool
		err      bool
	}{
		{scenario: "numbers", given: `{"port":22,"is_domain_controller":true}`, thenPort: 22, thenDC: ptr(true)},
		{scenario: "strings", given: `{"port":"445","is_domain_controller":"yes"}`, thenPort: 445, thenDC: ptr(true)},
		{scenario: "false string", given: `{"is_domain_controller":"no"}`, thenDC: ptr(false)},
		{scenario: "numeric bool", given: `{"is_domain_controller":0}`, thenDC: ptr(false)},
		{scenario: "nulls", given: `{"port":null,"is_domain_controller":null}`},
		{scenario: "empty port", given: `{"port":""}`},
		{scenario: "named port", given: `{"port":"ssh"}`, thenRaw: "ssh"},
		{scenario: "port with protocol", given: `{"port":"445/tcp","ip":"10.0.0.5"}`, thenRaw: "445/tcp"},
		{scenario: "invalid bool", given: `{"is_domain_controller":[1]}`, err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var r record
			err := json.Unmarshal([]byte(tc.given), &r)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.thenPort, r.Port.n)
			require.Equal(t, tc.thenRaw, r.Port.raw)
			if tc.thenDC == nil {
				require.Nil(t, r.IsDomainController)
				return
			}
			require.NotNil(t, r.IsDomainController)
			require.Equal(t, *tc.thenDC, bool(*r.IsDomainController))
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

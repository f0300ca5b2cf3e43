package model_test

import (
	"encoding/json"
	"testing"

	"github.com/CZERTAINLY/recon-relay/internal/model"

	"github.com/stretchr/testify/require"
)

func TestBox_MarshalJSON(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.Box
		then     string
	}{
		{
			scenario: "bare box",
			given:    model.Box{IP: "10.129.244.72"},
			then: `{"ip":"10.129.244.72","state":null,"hostname":null,"subnet":null,
				"standing":null,"os":null,"comments":null,"services":[],"domainAssets":[]}`,
		},
		{
			scenario: "service and domain controller",
			given: model.Box{
				IP:       "10.0.0.5",
				State:    "up",
				Hostname: "DC01",
				Subnet:   "10.0.0.0/24",
				Comments: "WebTitle: IIS Windows Server",
				Services: []model.Service{
					{Port: 22, Protocol: "tcp", State: "open"},
				},
				DomainAssets: []model.DomainAsset{
					{Hostname: "DC01", IP: "10.0.0.5", IsDomainController: model.Bool(true)},
				},
			},
			then: `{"ip":"10.0.0.5","state":"up","hostname":"DC01","subnet":"10.0.0.0/24",
				"standing":null,"os":null,"comments":"WebTitle: IIS Windows Server",
				"services":[{"port":22,"protocol":"tcp","state":"open","name":null,"version":null,"script":null}],
				"domainAssets":[{"hostname":"DC01","domainName":null,"distinguishedName":null,"role":null,
					"ip":"10.0.0.5","isDomainController":true,"notes":null}]}`,
		},
		{
			scenario: "domain asset with unknown role",
			given: model.Box{
				IP: "10.0.0.6",
				DomainAssets: []model.DomainAsset{
					{Hostname: "FS01", DomainName: "corp.local"},
				},
			},
			then: `{"ip":"10.0.0.6","state":null,"hostname":null,"subnet":null,
				"standing":null,"os":null,"comments":null,"services":[],
				"domainAssets":[{"hostname":"FS01","domainName":"corp.local","distinguishedName":null,"role":null,
					"ip":null,"isDomainController":null,"notes":null}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tc.given)
			require.NoError(t, err)
			require.JSONEq(t, tc.then, string(b))

			var back model.Box
			require.NoError(t, json.Unmarshal(b, &back))
			require.Equal(t, tc.given.IP, back.IP)
			require.Equal(t, tc.given.Hostname, back.Hostname)
			require.Len(t, back.Services, len(tc.given.Services))
			require.Len(t, back.DomainAssets, len(tc.given.DomainAssets))
		})
	}
}

func TestBox_MarshalJSON_Batch(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal([]model.Box{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}})
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Len(t, raw, 2)
	require.Equal(t, "10.0.0.2", raw[1]["ip"])
}

func TestBox_AddComment(t *testing.T) {
	t.Parallel()
	var box model.Box
	box.AddComment("WebTitle: 302 Found")
	box.AddComment("  ")
	box.AddComment("Redirect: http://fries.htb/")

	require.Equal(t, "WebTitle: 302 Found\nRedirect: http://fries.htb/", box.Comments)
	require.Equal(t, []string{"WebTitle: 302 Found", "Redirect: http://fries.htb/"}, box.CommentLines())
	require.Nil(t, model.Box{}.CommentLines())
}

func TestBox_HasDomainAsset(t *testing.T) {
	t.Parallel()
	box := model.Box{
		DomainAssets: []model.DomainAsset{{Hostname: "DC01"}},
	}
	require.True(t, box.HasDomainAsset("dc01"))
	require.False(t, box.HasDomainAsset("DC02"))
}

func TestParseScanner(t *testing.T) {
	t.Parallel()
	for _, s := range model.Scanners() {
		got, err := model.ParseScanner(" " + string(s) + " ")
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	var s model.Scanner
	require.NoError(t, s.UnmarshalText([]byte("NMAP")))
	require.Equal(t, model.ScannerNmap, s)

	_, err := model.ParseScanner("masscan")
	require.ErrorIs(t, err, model.ErrUnknownScanner)
}

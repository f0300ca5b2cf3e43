package model

import (
	"encoding/json"
	"strings"
)

// Box is a canonical host record: every finding for one IP address
// collected during a single parse pass.
type Box struct {
	IP           string
	State        string
	Hostname     string
	Subnet       string
	Standing     string
	OS           string
	Comments     string // newline separated, in order of discovery
	Services     []Service
	DomainAssets []DomainAsset
}

// Service is a single discovered network service. Port is the only
// mandatory field.
type Service struct {
	Port     int
	Protocol string
	State    string
	Name     string
	Version  string
	Script   string // raw probe/script output or a vulnerability note
}

// DomainAsset is a directory service fact about a host, either reported by
// a scanner or inferred from the host naming.
type DomainAsset struct {
	Hostname           string
	DomainName         string
	DistinguishedName  string
	Role               string
	IP                 string
	IsDomainController *bool // nil means unknown
	Notes              string
}

// AddComment appends a line to Comments. Empty lines are ignored.
func (b *Box) AddComment(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if b.Comments == "" {
		b.Comments = line
		return
	}
	b.Comments += "\n" + line
}

// CommentLines returns Comments split into the individual findings.
func (b Box) CommentLines() []string {
	if b.Comments == "" {
		return nil
	}
	return strings.Split(b.Comments, "\n")
}

// HasDomainAsset reports whether a domain asset for hostname was already recorded.
func (b Box) HasDomainAsset(hostname string) bool {
	for _, da := range b.DomainAssets {
		if strings.EqualFold(da.Hostname, hostname) {
			return true
		}
	}
	return false
}

type jsonBox struct {
	IP           string        `json:"ip"`
	State        *string       `json:"state"`
	Hostname     *string       `json:"hostname"`
	Subnet       *string       `json:"subnet"`
	Standing     *string       `json:"standing"`
	OS           *string       `json:"os"`
	Comments     *string       `json:"comments"`
	Services     []Service     `json:"services"`
	DomainAssets []DomainAsset `json:"domainAssets"`
}

type jsonService struct {
	Port     int     `json:"port"`
	Protocol *string `json:"protocol"`
	State    *string `json:"state"`
	Name     *string `json:"name"`
	Version  *string `json:"version"`
	Script   *string `json:"script"`
}

type jsonDomainAsset struct {
	Hostname           string  `json:"hostname"`
	DomainName         *string `json:"domainName"`
	DistinguishedName  *string `json:"distinguishedName"`
	Role               *string `json:"role"`
	IP                 *string `json:"ip"`
	IsDomainController *bool   `json:"isDomainController"`
	Notes              *string `json:"notes"`
}

// MarshalJSON encodes the box in the collector format: absent optional
// fields are null and collections are never null.
func (b Box) MarshalJSON() ([]byte, error) {
	services := b.Services
	if services == nil {
		services = []Service{}
	}
	assets := b.DomainAssets
	if assets == nil {
		assets = []DomainAsset{}
	}
	return json.Marshal(jsonBox{
		IP:           b.IP,
		State:        null(b.State),
		Hostname:     null(b.Hostname),
		Subnet:       null(b.Subnet),
		Standing:     null(b.Standing),
		OS:           null(b.OS),
		Comments:     null(b.Comments),
		Services:     services,
		DomainAssets: assets,
	})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var j jsonBox
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*b = Box{
		IP:           j.IP,
		State:        deref(j.State),
		Hostname:     deref(j.Hostname),
		Subnet:       deref(j.Subnet),
		Standing:     deref(j.Standing),
		OS:           deref(j.OS),
		Comments:     deref(j.Comments),
		Services:     j.Services,
		DomainAssets: j.DomainAssets,
	}
	return nil
}

func (s Service) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonService{
		Port:     s.Port,
		Protocol: null(s.Protocol),
		State:    null(s.State),
		Name:     null(s.Name),
		Version:  null(s.Version),
		Script:   null(s.Script),
	})
}

func (s *Service) UnmarshalJSON(data []byte) error {
	var j jsonService
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*s = Service{
		Port:     j.Port,
		Protocol: deref(j.Protocol),
		State:    deref(j.State),
		Name:     deref(j.Name),
		Version:  deref(j.Version),
		Script:   deref(j.Script),
	}
	return nil
}

func (d DomainAsset) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDomainAsset{
		Hostname:           d.Hostname,
		DomainName:         null(d.DomainName),
		DistinguishedName:  null(d.DistinguishedName),
		Role:               null(d.Role),
		IP:                 null(d.IP),
		IsDomainController: d.IsDomainController,
		Notes:              null(d.Notes),
	})
}

func (d *DomainAsset) UnmarshalJSON(data []byte) error {
	var j jsonDomainAsset
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*d = DomainAsset{
		Hostname:           j.Hostname,
		DomainName:         deref(j.DomainName),
		DistinguishedName:  deref(j.DistinguishedName),
		Role:               deref(j.Role),
		IP:                 deref(j.IP),
		IsDomainController: j.IsDomainController,
		Notes:              deref(j.Notes),
	}
	return nil
}

// Bool returns a pointer to v, handy for DomainAsset.IsDomainController.
func Bool(v bool) *bool {
	return &v
}

func null(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

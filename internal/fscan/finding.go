package fscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/recon-relay/internal/hosts"
	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// Kind is the closed set of findings understood in fscan output.
type Kind int

const (
	KindUnknown  Kind = iota
	KindPort          // "10.0.0.1:22 open"
	KindWebTitle      // http probe: title and redirect
	KindNetInfo       // NetBIOS/OXID block listing names of a host
	KindGeneric       // object with explicit ip/port/... fields
)

func (k Kind) String() string {
	switch k {
	case KindPort:
		return "port"
	case KindWebTitle:
		return "webtitle"
	case KindNetInfo:
		return "netinfo"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

var (
	portLineRe   = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+):(\d+)\s+(\w+)`)
	urlIPRe      = regexp.MustCompile(`https?://(\d+\.\d+\.\d+\.\d+)`)
	titleRe      = regexp.MustCompile(`title:(.+?)(?:\s+跳转url:|$)`)
	redirectRe   = regexp.MustCompile(`跳转url:\s*(\S+)`)
	urlHostRe    = regexp.MustCompile(`https?://([^/:]+)`)
	netInfoIPRe  = regexp.MustCompile(`^\[\*\](\d+\.\d+\.\d+\.\d+)`)
	ipv4PrefixRe = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+`)
	ipv6LikeRe   = regexp.MustCompile(`^[0-9A-Fa-f]*:[0-9A-Fa-f:]*(%\S+)?$`)
)

// record is one object of the fscan JSON stream. Besides the classic
// type/text pair, it carries the fields of the structured results.
type record struct {
	Type string `json:"type"`
	Text string `json:"text"`

	IP                 string    `json:"ip"`
	Host               string    `json:"host"`
	Hostname           string    `json:"hostname"`
	Port               flexPort  `json:"port"`
	Protocol           string    `json:"protocol"`
	State              string    `json:"state"`
	Service            string    `json:"service"`
	Version            string    `json:"version"`
	Banner             string    `json:"banner"`
	Info               string    `json:"info"`
	OS                 string    `json:"os"`
	Domain             string    `json:"domain"`
	DN                 string    `json:"dn"`
	Role               string    `json:"role"`
	IsDomainController *flexBool `json:"is_domain_controller"`
	Vulnerability      string    `json:"vulnerability"`
	PoC                string    `json:"poc"`
}

// finding is a classified record, which knows how to merge itself into a table.
type finding interface {
	Kind() Kind
	apply(ctx context.Context, t *hosts.Table)
}

// classify maps a record to its finding. Records of an unknown type with
// explicit address fields are treated as generic results.
func classify(r record) finding {
	switch r.Type {
	case "msg", "Port", "PORT", "port":
		if f, ok := parsePort(r.Text); ok {
			return f
		}
	case "WebTitle":
		return webTitle{text: r.Text}
	case "NetInfo":
		return netInfo{text: r.Text}
	}
	if r.IP != "" || isIPv4(r.Host) {
		return generic{r: r}
	}
	return unknown{typ: r.Type}
}

type port struct {
	ip    string
	port  int
	state string
}

func parsePort(text string) (port, bool) {
	m := portLineRe.FindStringSubmatch(text)
	if m == nil || !isIPv4(m[1]) {
		return port{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n > 65535 {
		return port{}, false
	}
	return port{ip: m[1], port: n, state: m[3]}, true
}

func (port) Kind() Kind { return KindPort }

func (f port) apply(_ context.Context, t *hosts.Table) {
	t.AddService(f.ip, model.Service{
		Port:     f.port,
		Protocol: "tcp",
		State:    f.state,
	})
}

// webTitle is a line like
// http://10.129.244.72      code:302 len:154    title:302 Found 跳转url: http://fries.htb/
type webTitle struct {
	text string
}

func (webTitle) Kind() Kind { return KindWebTitle }

func (f webTitle) apply(ctx context.Context, t *hosts.Table) {
	m := urlIPRe.FindStringSubmatch(f.text)
	if m == nil {
		slog.DebugContext(ctx, "web title without ip address: ignoring", "text", f.text)
		return
	}
	ip := m[1]
	t.Box(ip)

	if m := titleRe.FindStringSubmatch(f.text); m != nil {
		title := strings.TrimSpace(m[1])
		if title != "" && title != "None" {
			t.AddComment(ip, "WebTitle: "+title)
		}
	}

	if m := redirectRe.FindStringSubmatch(f.text); m != nil {
		redirect := m[1]
		if h := urlHostRe.FindStringSubmatch(redirect); h != nil {
			if t.SetHostname(ip, h[1]) {
				slog.InfoContext(ctx, "hostname found in redirect", "ip", ip, "hostname", h[1])
			}
		}
		t.AddComment(ip, "Redirect: "+redirect)
	}
}

// netInfo is a block like
//
//	[*]10.129.244.72
//	   [->]DC01
//	   [->]10.129.244.72
//	   [->]dead:beef::1
type netInfo struct {
	text string
}

func (netInfo) Kind() Kind { return KindNetInfo }

func (f netInfo) apply(ctx context.Context, t *hosts.Table) {
	var current string
	for line := range strings.SplitSeq(f.text, "\n") {
		line = strings.TrimSpace(line)
		if m := netInfoIPRe.FindStringSubmatch(line); m != nil {
			current = m[1]
			t.Box(current)
			continue
		}
		if current == "" || !strings.HasPrefix(line, "[->]") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "[->]"))
		if name == "" || looksLikeIP(name) {
			continue
		}
		if t.SetHostname(current, name) {
			slog.InfoContext(ctx, "hostname found", "ip", current, "hostname", name)
		}
		if da, ok := hosts.DomainController(name, current); ok {
			if t.AddDomainAsset(current, da) {
				slog.InfoContext(ctx, "domain controller detected", "ip", current, "hostname", name)
			}
		}
	}
}

// generic is a structured result with explicit fields
type generic struct {
	r record
}

func (generic) Kind() Kind { return KindGeneric }

func (f generic) apply(ctx context.Context, t *hosts.Table) {
	r := f.r
	ip := r.IP
	if ip == "" {
		ip = r.Host
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		slog.DebugContext(ctx, "result without a valid ip address: ignoring", "type", r.Type, "ip", ip)
		return
	}
	t.Box(ip)

	hostname := r.Hostname
	if hostname == "" && r.Host != "" && !looksLikeIP(r.Host) {
		hostname = r.Host
	}
	t.SetHostname(ip, hostname)
	t.SetOS(ip, r.OS)

	if r.Port.raw != "" {
		slog.DebugContext(ctx, "unparsable port: ignoring", "ip", ip, "port", r.Port.raw)
	}
	if r.Port.n > 0 && r.Port.n <= 65535 {
		protocol := r.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		script := r.Banner
		if script == "" {
			script = r.Info
		}
		t.AddService(ip, model.Service{
			Port:     r.Port.n,
			Protocol: protocol,
			State:    r.State,
			Name:     r.Service,
			Version:  r.Version,
			Script:   script,
		})
	}

	if r.Vulnerability != "" {
		t.AddComment(ip, "Vulnerability: "+r.Vulnerability)
	}
	if r.PoC != "" {
		t.AddComment(ip, "PoC: "+r.PoC)
	}

	isDC := r.IsDomainController != nil && bool(*r.IsDomainController)
	if !isDC && r.Domain == "" {
		return
	}
	assetName := hostname
	if assetName == "" {
		assetName = ip
	}
	da := model.DomainAsset{
		Hostname:          assetName,
		DomainName:        r.Domain,
		DistinguishedName: r.DN,
		Role:              r.Role,
		IP:                ip,
	}
	if r.IsDomainController != nil {
		da.IsDomainController = model.Bool(bool(*r.IsDomainController))
	}
	t.MergeDomainAsset(ip, da)
}

type unknown struct {
	typ string
}

func (unknown) Kind() Kind { return KindUnknown }

func (f unknown) apply(ctx context.Context, _ *hosts.Table) {
	slog.DebugContext(ctx, "unsupported fscan result: ignoring", "type", f.typ)
}

func isIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// looksLikeIP reports IPv4/IPv6 literals, including the partial ones
// fscan prints in NetInfo blocks
func looksLikeIP(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	return ipv4PrefixRe.MatchString(s) || ipv6LikeRe.MatchString(s)
}

// flexPort accepts both 22 and "22". Any other value ("445/tcp", "ssh")
// is kept in raw and means no port, so the rest of the record survives.
type flexPort struct {
	n   int
	raw string
}

func (p *flexPort) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.raw = s
		return nil
	}
	p.n = n
	return nil
}

// flexBool accepts true, "true", "yes", 1 and their negative counterparts
type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = false
	case bool:
		*v = flexBool(x)
	case float64:
		*v = x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			*v = true
		default:
			*v = false
		}
	default:
		return fmt.Errorf("invalid boolean %s", b)
	}
	return nil
}

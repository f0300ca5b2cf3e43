package hosts

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// matches DC01, DC-01, dc_2, JD-DC01, CORP-DC01.corp.local
var dcPattern = regexp.MustCompile(`(?i)DC[-_]?\d+`)

// IsDomainControllerName reports whether hostname follows the usual
// domain controller naming.
func IsDomainControllerName(hostname string) bool {
	return dcPattern.MatchString(hostname)
}

// DomainController returns the asset describing hostname at ip as a domain
// controller, ok is false if the name does not look like one.
func DomainController(hostname, ip string) (model.DomainAsset, bool) {
	if !IsDomainControllerName(hostname) {
		return model.DomainAsset{}, false
	}
	return model.DomainAsset{
		Hostname:           hostname,
		IP:                 ip,
		IsDomainController: model.Bool(true),
	}, true
}

// InferDomainControllers adds a domain controller asset to every box whose
// hostname looks like a domain controller and which has no domain asset yet.
// It returns the number of assets added.
func (t *Table) InferDomainControllers(ctx context.Context) int {
	var added int
	for _, box := range t.boxes {
		if box.Hostname == "" || len(box.DomainAssets) > 0 {
			continue
		}
		da, ok := DomainController(box.Hostname, box.IP)
		if !ok {
			continue
		}
		slog.InfoContext(ctx, "domain controller detected from hostname", "hostname", box.Hostname, "ip", box.IP)
		box.DomainAssets = append(box.DomainAssets, da)
		added++
	}
	return added
}

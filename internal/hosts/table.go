// Package hosts aggregates findings into one model.Box per IP address.
//
// A Table is owned by a single parse call. Scalar fields of a box are only
// ever filled when empty, everything else is appended, so the order in
// which a scanner reports its findings is preserved.
package hosts

import (
	"iter"
	"strings"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// Table is an insertion ordered IP -> Box table.
type Table struct {
	subnet string
	boxes  []*model.Box
	index  map[string]int
}

// New returns an empty table; subnet is attached to every box.
func New(subnet string) *Table {
	return &Table{
		subnet: subnet,
		index:  make(map[string]int),
	}
}

// Box returns the box for ip, creating it on the first mention.
func (t *Table) Box(ip string) *model.Box {
	if idx, ok := t.index[ip]; ok {
		return t.boxes[idx]
	}
	box := &model.Box{
		IP:     ip,
		Subnet: t.subnet,
	}
	t.index[ip] = len(t.boxes)
	t.boxes = append(t.boxes, box)
	return box
}

// Lookup returns the box for ip without creating it.
func (t *Table) Lookup(ip string) (*model.Box, bool) {
	idx, ok := t.index[ip]
	if !ok {
		return nil, false
	}
	return t.boxes[idx], true
}

func (t *Table) Len() int {
	return len(t.boxes)
}

// AddService appends svc to the box of ip.
func (t *Table) AddService(ip string, svc model.Service) {
	box := t.Box(ip)
	box.Services = append(box.Services, svc)
}

// AddComment appends a comment line to the box of ip.
func (t *Table) AddComment(ip, line string) {
	t.Box(ip).AddComment(line)
}

// SetHostname sets the hostname unless one is already known. Reports
// whether the value was stored.
func (t *Table) SetHostname(ip, hostname string) bool {
	return fill(&t.Box(ip).Hostname, hostname)
}

// SetState sets the host state unless already known.
func (t *Table) SetState(ip, state string) bool {
	return fill(&t.Box(ip).State, state)
}

// SetOS sets the operating system unless already known.
func (t *Table) SetOS(ip, os string) bool {
	return fill(&t.Box(ip).OS, os)
}

// AddDomainAsset appends da to the box of ip. An asset with the same
// hostname already recorded for the box is not added twice.
func (t *Table) AddDomainAsset(ip string, da model.DomainAsset) bool {
	box := t.Box(ip)
	if box.HasDomainAsset(da.Hostname) {
		return false
	}
	box.DomainAssets = append(box.DomainAssets, da)
	return true
}

// MergeDomainAsset records an asset reported explicitly by a scanner. When
// the box already holds an asset of the same hostname which does not
// contradict da, its empty fields are filled from da. Otherwise da is
// appended, so conflicting reports are all kept.
func (t *Table) MergeDomainAsset(ip string, da model.DomainAsset) {
	box := t.Box(ip)
	for i := range box.DomainAssets {
		cur := &box.DomainAssets[i]
		if !strings.EqualFold(cur.Hostname, da.Hostname) || !compatible(*cur, da) {
			continue
		}
		fill(&cur.DomainName, da.DomainName)
		fill(&cur.DistinguishedName, da.DistinguishedName)
		fill(&cur.Role, da.Role)
		fill(&cur.IP, da.IP)
		fill(&cur.Notes, da.Notes)
		if cur.IsDomainController == nil && da.IsDomainController != nil {
			cur.IsDomainController = model.Bool(*da.IsDomainController)
		}
		return
	}
	box.DomainAssets = append(box.DomainAssets, da)
}

// compatible reports whether no field set in both a and b differs
func compatible(a, b model.DomainAsset) bool {
	same := func(x, y string) bool {
		return x == "" || y == "" || strings.EqualFold(x, y)
	}
	if a.IsDomainController != nil && b.IsDomainController != nil &&
		*a.IsDomainController != *b.IsDomainController {
		return false
	}
	return same(a.DomainName, b.DomainName) &&
		same(a.DistinguishedName, b.DistinguishedName) &&
		same(a.Role, b.Role) &&
		same(a.IP, b.IP) &&
		same(a.Notes, b.Notes)
}

// All yields the boxes in the order their IP was first seen.
func (t *Table) All() iter.Seq[model.Box] {
	return func(yield func(model.Box) bool) {
		for _, box := range t.boxes {
			if !yield(*box) {
				return
			}
		}
	}
}

// Boxes returns a copy of all the boxes in the order of All.
func (t *Table) Boxes() []model.Box {
	ret := make([]model.Box, 0, len(t.boxes))
	for box := range t.All() {
		ret = append(ret, box)
	}
	return ret
}

func fill(dst *string, value string) bool {
	if *dst != "" || value == "" {
		return false
	}
	*dst = value
	return true
}

package nmap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"

	"github.com/Ullaakut/nmap/v3"
)

// ErrMalformed is returned for documents which are not a valid nmap XML
// output. Unlike fscan output, nmap XML is never parsed on a best effort basis.
var ErrMalformed = errors.New("malformed nmap xml")

// Parser reads nmap XML documents (nmap -oX) from disk.
type Parser struct {
	Subnet string
}

func (p Parser) Parse(ctx context.Context, path string) (iter.Seq[model.Box], error) {
	return ParseFile(ctx, path, p.Subnet)
}

// ParseFile is Parse for a file path.
func ParseFile(ctx context.Context, path, subnet string) (iter.Seq[model.Box], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nmap: opening %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	ctx = log.ContextAttrs(ctx, slog.String("path", path))
	return Parse(ctx, f, subnet)
}

// Parse decodes the whole document and returns a sequence of boxes, one per
// host element with an IPv4 address, in document order. The sequence can be
// consumed only once.
func Parse(ctx context.Context, r io.Reader, subnet string) (iter.Seq[model.Box], error) {
	run, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	ctx = log.ContextAttrs(ctx, slog.String("scanner", "nmap"))
	if len(run.Hosts) == 0 {
		slog.WarnContext(ctx, "nmap document contains no hosts")
	} else {
		slog.InfoContext(ctx, "nmap document parsed", "hosts", len(run.Hosts))
	}

	var consumed bool
	return func(yield func(model.Box) bool) {
		if consumed {
			return
		}
		consumed = true
		for _, host := range run.Hosts {
			box, ok := HostToModel(ctx, host, subnet)
			if !ok {
				continue
			}
			if !yield(box) {
				return
			}
		}
	}, nil
}

// decode reads the nmaprun root element, skipping the prolog
func decode(r io.Reader) (nmap.Run, error) {
	var run nmap.Run
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return run, errors.New("no nmaprun element")
		}
		if err != nil {
			return run, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "nmaprun" {
			return run, fmt.Errorf("unexpected root element <%s>", start.Name.Local)
		}
		if err := dec.DecodeElement(&run, &start); err != nil {
			return run, err
		}
		return run, nil
	}
}

// HostToModel converts a single nmap host into a box. It returns false for
// hosts without any IPv4 address.
func HostToModel(ctx context.Context, host nmap.Host, subnet string) (model.Box, bool) {
	var address string
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" && addr.Addr != "" {
			address = addr.Addr
			break
		}
	}
	if address == "" {
		slog.DebugContext(ctx, "skipping host without ipv4 address", "addresses", len(host.Addresses))
		return model.Box{}, false
	}

	var hostname string
	if len(host.Hostnames) > 0 {
		hostname = host.Hostnames[0].Name
	}
	var osName string
	if len(host.OS.Matches) > 0 {
		osName = host.OS.Matches[0].Name
	}

	services := make([]model.Service, len(host.Ports))
	for i, port := range host.Ports {
		services[i] = portToModel(port)
	}

	return model.Box{
		IP:       address,
		State:    host.Status.State,
		Hostname: hostname,
		Subnet:   subnet,
		OS:       osName,
		Services: services,
	}, true
}

func portToModel(port nmap.Port) model.Service {
	return model.Service{
		Port:     int(port.ID),
		Protocol: port.Protocol,
		State:    port.State.State,
		Name:     port.Service.Name,
		Version:  port.Service.Version,
		Script:   scriptsOutput(port.Scripts),
	}
}

// scriptsOutput joins the raw output of all scripts run against a port
func scriptsOutput(scripts []nmap.Script) string {
	var outputs []string
	for _, s := range scripts {
		if out := strings.TrimSpace(s.Output); out != "" {
			outputs = append(outputs, out)
		}
	}
	return strings.Join(outputs, "\n")
}

package fscan

import (
	"bufio"
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strconv"

	"github.com/CZERTAINLY/recon-relay/internal/hosts"
	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// textLineRe matches "10.0.0.1:22 open", optionally prefixed by a tag like [+]
var textLineRe = regexp.MustCompile(`^(?:\[[^\]]*\]\s*)?(\d+\.\d+\.\d+\.\d+):(\d+)\s+(\w+)`)

// TextParser reads the plain text fscan output (fscan -o result.txt).
type TextParser struct {
	Subnet string
}

func (p TextParser) Parse(ctx context.Context, path string) (iter.Seq[model.Box], error) {
	ctx = log.ContextAttrs(ctx,
		slog.String("scanner", "text"),
		slog.String("path", path),
	)
	f, err := os.Open(path)
	if err != nil {
		slog.WarnContext(ctx, "can't read fscan text output", "error", err)
		return slices.Values([]model.Box(nil)), nil
	}
	defer func() {
		_ = f.Close()
	}()
	return slices.Values(parseText(ctx, f, p.Subnet)), nil
}

// ParseText returns one box per IP address mentioned in port lines. Other
// lines are ignored, there is no hostname or domain inference.
func ParseText(ctx context.Context, r io.Reader, subnet string) []model.Box {
	return parseText(log.ContextAttrs(ctx, slog.String("scanner", "text")), r, subnet)
}

func parseText(ctx context.Context, r io.Reader, subnet string) []model.Box {
	table := hosts.New(subnet)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := textLineRe.FindStringSubmatch(scanner.Text())
		if m == nil || !isIPv4(m[1]) {
			continue
		}
		port, err := strconv.Atoi(m[2])
		if err != nil || port > 65535 {
			continue
		}
		table.AddService(m[1], model.Service{
			Port:     port,
			Protocol: "tcp",
			State:    m[3],
		})
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "reading fscan text output failed", "error", err)
	}
	return emit(ctx, table)
}

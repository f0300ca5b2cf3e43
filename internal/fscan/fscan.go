// Package fscan parses the output of the fscan scanner.
//
// fscan writes its JSON results as a comma separated stream of objects
// without the surrounding array, very often with a trailing comma. The
// content is normalized into a JSON array first. When this fails, the same
// content is parsed by the line oriented text parser.
package fscan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/CZERTAINLY/recon-relay/internal/hosts"
	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// Parser reads fscan JSON results (fscan -json) from disk.
type Parser struct {
	Subnet string
}

func (p Parser) Parse(ctx context.Context, path string) (iter.Seq[model.Box], error) {
	boxes, err := ParseFile(ctx, path, p.Subnet)
	if err != nil {
		return nil, err
	}
	return slices.Values(boxes), nil
}

// ParseFile reads the file and returns the aggregated boxes. A missing or
// empty file is not an error, only a warning is logged.
func ParseFile(ctx context.Context, path, subnet string) ([]model.Box, error) {
	ctx = log.ContextAttrs(ctx,
		slog.String("scanner", "fscan"),
		slog.String("path", path),
	)
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.WarnContext(ctx, "fscan output not found")
		return nil, nil
	case err != nil:
		slog.WarnContext(ctx, "can't read fscan output", "error", err)
		return nil, nil
	}
	return ParseBytes(ctx, content, subnet), nil
}

// ParseBytes parses fscan output already in memory.
func ParseBytes(ctx context.Context, content []byte, subnet string) []model.Box {
	if len(bytes.TrimSpace(content)) == 0 {
		slog.WarnContext(ctx, "fscan output is empty")
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(Normalize(content), &raws); err != nil {
		slog.WarnContext(ctx, "fscan output is not json: using text parser", "error", err)
		return parseText(ctx, bytes.NewReader(content), subnet)
	}

	table := hosts.New(subnet)
	kinds := make(map[Kind]int)
	for idx, raw := range raws {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			slog.WarnContext(ctx, "skipping invalid fscan result", "index", idx, "error", err)
			continue
		}
		f := classify(r)
		kinds[f.Kind()]++
		f.apply(ctx, table)
	}
	slog.DebugContext(ctx, "fscan results classified",
		"total", len(raws),
		"port", kinds[KindPort],
		"webtitle", kinds[KindWebTitle],
		"netinfo", kinds[KindNetInfo],
		"generic", kinds[KindGeneric],
		"unknown", kinds[KindUnknown],
	)

	if n := table.InferDomainControllers(ctx); n > 0 {
		slog.DebugContext(ctx, "domain controllers inferred from hostnames", "count", n)
	}
	return emit(ctx, table)
}

// Normalize turns the fscan framing (objects separated by commas, optional
// trailing comma) into a JSON array. Content which already is an array is
// returned trimmed.
func Normalize(content []byte) []byte {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	content = bytes.TrimSpace(content)
	if len(content) > 0 && content[0] == '[' {
		return content
	}
	content = bytes.TrimSuffix(content, []byte(","))
	ret := make([]byte, 0, len(content)+2)
	ret = append(ret, '[')
	ret = append(ret, content...)
	return append(ret, ']')
}

// emit marks every host as up and returns the boxes in first seen order
func emit(ctx context.Context, table *hosts.Table) []model.Box {
	if table.Len() == 0 {
		slog.WarnContext(ctx, "no hosts found in fscan output")
		return nil
	}
	boxes := make([]model.Box, 0, table.Len())
	for box := range table.All() {
		if box.State == "" {
			box.State = "up"
		}
		slog.InfoContext(ctx, "host",
			"ip", box.IP,
			"hostname", box.Hostname,
			"services", len(box.Services),
			"domain_assets", len(box.DomainAssets),
		)
		boxes = append(boxes, box)
	}
	slog.InfoContext(ctx, "fscan output parsed", "hosts", len(boxes))
	return boxes
}

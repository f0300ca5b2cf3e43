package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/CZERTAINLY/recon-relay/internal/fscan"
	"github.com/CZERTAINLY/recon-relay/internal/model"
	"github.com/CZERTAINLY/recon-relay/internal/nmap"
)

// Parser turns one scanner artifact into boxes.
type Parser interface {
	Parse(ctx context.Context, path string) (iter.Seq[model.Box], error)
}

// NewParser returns the parser for a scanner kind. Every box produced gets
// subnet attached.
func NewParser(kind model.Scanner, subnet string) (Parser, error) {
	switch kind {
	case model.ScannerNmap:
		return nmap.Parser{Subnet: subnet}, nil
	case model.ScannerFscan:
		return fscan.Parser{Subnet: subnet}, nil
	case model.ScannerText:
		return fscan.TextParser{Subnet: subnet}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownScanner, string(kind))
	}
}

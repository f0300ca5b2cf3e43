package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownScanner is returned for a scanner name without a parser.
var ErrUnknownScanner = errors.New("unknown scanner")

// Scanner identifies the tool which produced an artifact, and thus the parser used for it.
type Scanner string

const (
	ScannerNmap  Scanner = "nmap"  // nmap -oX document
	ScannerFscan Scanner = "fscan" // fscan -json output
	ScannerText  Scanner = "text"  // fscan plain text output
)

// Scanners lists the supported scanners in the order stages are executed.
func Scanners() []Scanner {
	return []Scanner{ScannerFscan, ScannerText, ScannerNmap}
}

func ParseScanner(s string) (Scanner, error) {
	switch x := Scanner(strings.ToLower(strings.TrimSpace(s))); x {
	case ScannerNmap, ScannerFscan, ScannerText:
		return x, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScanner, s)
	}
}

func (s Scanner) String() string {
	return string(s)
}

func (s *Scanner) UnmarshalText(text []byte) error {
	x, err := ParseScanner(string(text))
	if err != nil {
		return err
	}
	*s = x
	return nil
}

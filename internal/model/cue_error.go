package model

import (
	"fmt"
	"log/slog"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CueError provides more user friendly validation errors on top of
// those generated by cuelang itself
type CueError struct {
	cuerr error
}

// Error implements error interface, returns the string content of underlying
// cue error
func (e CueError) Error() string {
	return e.cuerr.Error()
}

// Unwrap allows one to get the original error via errors.As
func (e CueError) Unwrap() error {
	return e.cuerr
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

type CueErrorDetail struct {
	Path    string
	Message string
	Pos     CueErrorPosition
	Raw     string
}

func (d CueErrorDetail) Attr(key string) slog.Attr {
	return slog.Group(key,
		slog.String("path", d.Path),
		slog.String("message", d.Message),
		slog.String("pos", fmt.Sprintf("%s:%d:%d", d.Pos.Filename, d.Pos.Line, d.Pos.Column)),
	)
}

// Details provide human-friendlier error messages, one per cue error
func (e CueError) Details() []CueErrorDetail {
	errs := cueerrors.Errors(e.cuerr)
	ret := make([]CueErrorDetail, 0, len(errs))
	for _, err := range errs {
		path := strings.Join(err.Path(), ".")
		path = strings.TrimPrefix(path, "#Config.")
		format, args := err.Msg()
		ret = append(ret, CueErrorDetail{
			Path:    path,
			Message: fmt.Sprintf(format, args...),
			Pos:     position(err),
			Raw:     err.Error(),
		})
	}
	return ret
}

// position prefers the location in the user supplied file over the schema
func position(err cueerrors.Error) CueErrorPosition {
	var pos token.Pos
	for _, p := range err.InputPositions() {
		if p.Filename() == "config.yaml" {
			pos = p
			break
		}
	}
	if !pos.IsValid() {
		pos = err.Position()
	}
	if !pos.IsValid() {
		return CueErrorPosition{}
	}
	return CueErrorPosition{
		Filename: pos.Filename(),
		Line:     pos.Line(),
		Column:   pos.Column(),
	}
}

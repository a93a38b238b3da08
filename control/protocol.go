// Copyright 2015 Apcera Inc. All rights reserved.

// Package control implements the local control socket spec.md §6
// describes: a Unix stream listener at a well-known path, framed
// length-prefixed binary records carrying tagged-variant request and
// response payloads, authenticated by the connecting peer's
// credentials.
package control

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame so a misbehaving or malicious
// peer can't force an unbounded allocation via a bogus length prefix.
const maxFrameSize = 1 << 20

// RequestKind names which of the tagged-variant requests a Request
// carries, per spec.md §6's Ping/List/Status/Start/.../Parse set.
type RequestKind string

const (
	ReqPing           RequestKind = "Ping"
	ReqList           RequestKind = "List"
	ReqStatus         RequestKind = "Status"
	ReqStart          RequestKind = "Start"
	ReqStop           RequestKind = "Stop"
	ReqRestart        RequestKind = "Restart"
	ReqReload         RequestKind = "Reload"
	ReqEnable         RequestKind = "Enable"
	ReqDisable        RequestKind = "Disable"
	ReqIsEnabled      RequestKind = "IsEnabled"
	ReqDeps           RequestKind = "Deps"
	ReqGetBootTarget  RequestKind = "GetBootTarget"
	ReqSwitchTarget   RequestKind = "SwitchTarget"
	ReqSync           RequestKind = "Sync"
	ReqParse          RequestKind = "Parse"
)

// Request is the tagged-variant envelope every control socket call
// sends. Not every field applies to every Kind; Mode and Filter are
// used only where spec.md §6 lists them.
type Request struct {
	Kind   RequestKind
	Name   string
	Mode   string // job mode for Start/Stop/Restart: replace, fail, isolate, ignore-dependencies
	Filter string // List's optional state filter
	Path   string // Parse's unit file path
}

// ResponseKind names the tagged-variant response shape, per spec.md
// §6's Ok/Units/UnitInfo/Error set.
type ResponseKind string

const (
	RespOk       ResponseKind = "Ok"
	RespUnits    ResponseKind = "Units"
	RespUnitInfo ResponseKind = "UnitInfo"
	RespError    ResponseKind = "Error"
)

// UnitInfo is the subset of a unit's state the control socket exposes,
// the wire analogue of the D-Bus Unit object's properties.
type UnitInfo struct {
	Name       string
	LoadState  string
	Active     string
	Sub        string
	MainPID    int
	Enabled    bool
}

// Response is the tagged-variant envelope every control socket call
// receives back.
type Response struct {
	Kind    ResponseKind
	Units   []UnitInfo
	Unit    UnitInfo
	Target  string
	ErrKind string
	ErrMsg  string
}

// Errorf builds an Error-kind Response, mirroring spec.md §7's
// {kind,msg} failure shape.
func Errorf(kind, format string, args ...interface{}) *Response {
	return &Response{Kind: RespError, ErrKind: kind, ErrMsg: fmt.Sprintf(format, args...)}
}

// writeFrame gob-encodes v and writes it behind a 4-byte big-endian
// length prefix, the length-prefixed binary framing spec.md §6
// prescribes for the control socket.
func writeFrame(w io.Writer, v interface{}) error {
	var bw bytes.Buffer
	if err := gob.NewEncoder(&bw).Encode(v); err != nil {
		return err
	}
	if bw.Len() > maxFrameSize {
		return fmt.Errorf("control: frame of %d bytes exceeds %d byte limit", bw.Len(), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(bw.Len()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(bw.Bytes())
	return err
}

// readFrame reads a single length-prefixed frame and gob-decodes it
// into v.
func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("control: frame of %d bytes exceeds %d byte limit", size, maxFrameSize)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}

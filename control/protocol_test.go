// Copyright 2015 Apcera Inc. All rights reserved.

package control

import (
	"bytes"
	"testing"

	. "github.com/apcera/util/testtool"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Kind: ReqStart, Name: "web.service", Mode: "replace"}
	TestExpectSuccess(t, writeFrame(&buf, req))

	var got Request
	TestExpectSuccess(t, readFrame(&buf, &got))
	TestEqual(t, got.Kind, req.Kind)
	TestEqual(t, got.Name, req.Name)
	TestEqual(t, got.Mode, req.Mode)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // huge bogus length prefix
	var got Request
	TestExpectError(t, readFrame(&buf, &got))
}

func TestErrorfBuildsErrorResponse(t *testing.T) {
	resp := Errorf("no-such-unit", "unit %s not found", "x.service")
	TestEqual(t, resp.Kind, RespError)
	TestEqual(t, resp.ErrKind, "no-such-unit")
	TestEqual(t, resp.ErrMsg, "unit x.service not found")
}

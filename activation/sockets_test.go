// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func TestServiceNameForDefaultsToStemService(t *testing.T) {
	u := &unit.Unit{Name: "web.socket", Kind: unit.KindSocket, Socket: &unit.Socket{}}
	TestEqual(t, serviceNameFor(u), "web.service")
}

func TestServiceNameForHonorsOverride(t *testing.T) {
	u := &unit.Unit{Name: "web.socket", Kind: unit.KindSocket, Socket: &unit.Socket{Service: "custom.service"}}
	TestEqual(t, serviceNameFor(u), "custom.service")
}

func TestIsUnixAddress(t *testing.T) {
	TestTrue(t, isUnixAddress("/run/web.sock"))
	TestTrue(t, isUnixAddress("@abstract"))
	TestFalse(t, isUnixAddress("0.0.0.0:8080"))
	TestFalse(t, isUnixAddress("[::]:8080"))
}

func TestListenerNameUsesAddress(t *testing.T) {
	l := unit.Listener{Kind: unit.ListenStream, Address: "/run/web.sock"}
	TestEqual(t, listenerName(l), "/run/web.sock")
}

package sandbox

import (
	"testing"

	. "github.com/apcera/util/testtool"
)

func TestApplyCapabilityBoundingSetEmptyIsNoop(t *testing.T) {
	TestExpectSuccess(t, applyCapabilityBoundingSet(nil))
}

func TestCapabilityByNameCoversCommonNames(t *testing.T) {
	for _, name := range []string{"CAP_NET_BIND_SERVICE", "CAP_SYS_ADMIN", "CAP_CHOWN", "CAP_SETUID"} {
		_, ok := capabilityByName[name]
		TestTrue(t, ok, name)
	}
}

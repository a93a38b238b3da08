package sandbox

import (
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func TestNeedsPTYFalseWhenAllStreamsAreNotTTY(t *testing.T) {
	TestFalse(t, NeedsPTY(unit.StdioNull, unit.StdioJournal, unit.StdioJournal))
}

func TestNeedsPTYTrueWhenAnyStreamIsTTY(t *testing.T) {
	TestTrue(t, NeedsPTY(unit.StdioTTY, unit.StdioJournal, unit.StdioJournal))
	TestTrue(t, NeedsPTY(unit.StdioNull, unit.StdioTTY, unit.StdioJournal))
	TestTrue(t, NeedsPTY(unit.StdioNull, unit.StdioJournal, unit.StdioTTY))
}

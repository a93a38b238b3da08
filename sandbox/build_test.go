package sandbox

import (
	"os/user"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func withUserLookups(t *testing.T, users map[string]*user.User, groups map[string]*user.Group) {
	origUser, origGroup, origGroupIDs := lookupUser, lookupGroup, groupIDsOf
	lookupUser = func(name string) (*user.User, error) {
		if u, ok := users[name]; ok {
			return u, nil
		}
		return nil, user.UnknownUserError(name)
	}
	lookupGroup = func(name string) (*user.Group, error) {
		if g, ok := groups[name]; ok {
			return g, nil
		}
		return nil, user.UnknownGroupError(name)
	}
	// Synthetic *user.User values built by this test have no meaningful
	// Username for a real system group lookup to key off; supply a
	// fixed supplementary-group list instead.
	groupIDsOf = func(u *user.User) ([]string, error) { return []string{u.Gid}, nil }
	t.Cleanup(func() {
		lookupUser, lookupGroup, groupIDsOf = origUser, origGroup, origGroupIDs
	})
}

func TestResolveIdentityDefaultsToRoot(t *testing.T) {
	uid, gid, supp, err := resolveIdentity(unit.Identity{}, "foo.service", nil)
	TestExpectSuccess(t, err)
	TestEqual(t, uid, uint32(0))
	TestEqual(t, gid, uint32(0))
	TestEqual(t, len(supp), 0)
}

func TestResolveIdentityLooksUpNamedUser(t *testing.T) {
	withUserLookups(t, map[string]*user.User{
		"app": {Uid: "1000", Gid: "1000"},
	}, nil)

	uid, gid, _, err := resolveIdentity(unit.Identity{User: "app"}, "foo.service", nil)
	TestExpectSuccess(t, err)
	TestEqual(t, uid, uint32(1000))
	TestEqual(t, gid, uint32(1000))
}

func TestResolveIdentityGroupOverridesPrimaryGID(t *testing.T) {
	withUserLookups(t, map[string]*user.User{
		"app": {Uid: "1000", Gid: "1000"},
	}, map[string]*user.Group{
		"app-group": {Gid: "2000"},
	})

	uid, gid, _, err := resolveIdentity(unit.Identity{User: "app", Group: "app-group"}, "foo.service", nil)
	TestExpectSuccess(t, err)
	TestEqual(t, uid, uint32(1000))
	TestEqual(t, gid, uint32(2000))
}

func TestResolveIdentityDynamicUserRequiresResolver(t *testing.T) {
	_, _, _, err := resolveIdentity(unit.Identity{DynamicUser: true}, "foo.service", nil)
	TestExpectError(t, err)
}

func TestResolveIdentityDynamicUserUsesResolver(t *testing.T) {
	resolver := func(name string) (uint32, uint32, error) {
		TestEqual(t, name, "foo.service")
		return 61184, 61184, nil
	}
	uid, gid, _, err := resolveIdentity(unit.Identity{DynamicUser: true}, "foo.service", resolver)
	TestExpectSuccess(t, err)
	TestEqual(t, uid, uint32(61184))
	TestEqual(t, gid, uint32(61184))
}

func TestBuildConfigFlattensEnvironment(t *testing.T) {
	svc := unit.NewService()
	svc.Environment["FOO"] = "bar"
	cmd := unit.ExecCommand{Path: "/bin/true"}

	cfg, err := BuildConfig("foo.service", svc, cmd, "/sys/fs/cgroup/system.slice/foo.service", nil)
	TestExpectSuccess(t, err)
	TestEqual(t, cfg.Environment, []string{"FOO=bar"})
	TestEqual(t, cfg.Argv0, "/bin/true")
	TestEqual(t, cfg.CgroupPath, "/sys/fs/cgroup/system.slice/foo.service")
}

package app

import (
	"os"
	"runtime/debug"
	"strconv"
)

const testModeEnv = "KONZERN_TEST_MODE"

// InTestMode reports whether the binaries should return before opening any
// connection. Any value strconv.ParseBool accepts as true enables it.
func InTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
}

// Version reports the module version of the running binary, "devel" for
// builds outside a tagged module.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}

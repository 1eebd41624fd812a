package backend

import (
	"fmt"
	"os"
)

// envAllowlist is the only set of variables a child process inherits from
// the gateway. Everything else — JWT secrets, database URLs, tokens — is
// withheld; per-backend env entries from the config are applied on top.
var envAllowlist = []string{
	"PATH", "HOME", "USER", "LANG",
	"NODE_PATH", "NVM_DIR", "NVM_BIN",
	"TMPDIR", "TERM",
}

// childEnv builds the sanitised environment for a stdio child.
func childEnv(extra map[string]string) []string {
	env := make([]string, 0, len(envAllowlist)+len(extra))
	for _, key := range envAllowlist {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	for key, val := range extra {
		env = append(env, fmt.Sprintf("%s=%s", key, val))
	}
	return env
}

package gate

import (
	"os"
	"os/user"
	"strings"
)

// ciActorVars are checked in order when no actor is configured.
var ciActorVars = []string{
	"TOLLGATE_ACTOR",
	"GITHUB_ACTOR",
	"GITLAB_USER_LOGIN",
	"BUILDKITE_BUILD_CREATOR_EMAIL",
	"CIRCLE_USERNAME",
	"BUILD_REQUESTEDFOREMAIL",
	"BUILD_USER_ID",
}

// UnknownActor is recorded when no identity can be determined.
const UnknownActor = "unknown"

func envLookup(key string) string {
	return os.Getenv(key)
}

// ResolveActor returns who ran the evaluation: the configured actor, the
// user reported by the CI environment, the local OS user, or UnknownActor.
func ResolveActor(configured string, getenv func(string) string) string {
	if a := strings.TrimSpace(configured); a != "" {
		return a
	}
	if getenv == nil {
		getenv = envLookup
	}
	for _, key := range ciActorVars {
		if a := strings.TrimSpace(getenv(key)); a != "" {
			return a
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if a := strings.TrimSpace(getenv("USER")); a != "" {
		return a
	}
	return UnknownActor
}

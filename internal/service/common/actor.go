//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
)

// usernameEnv are consulted when the user database has no entry for the process.
var usernameEnv = []string{"USER", "USERNAME", "LOGNAME"}

// DetectActor describes who started the run, for the report and the daemon logs.
// The actor is never nil: fields that cannot be detected stay empty and the
// returned error says why.
func DetectActor() (*apk.Actor, error) {
	actor := new(apk.Actor)

	var errs []error

	hostname, err := os.Hostname()
	if err != nil {
		errs = append(errs, fmt.Errorf("hostname: %w", err))
	}

	actor.Hostname = hostname

	currentUser, err := user.Current()
	if err == nil {
		actor.Username = currentUser.Username
	} else {
		actor.Username = usernameFromEnv()
		if actor.Username == "" {
			errs = append(errs, fmt.Errorf("current user: %w", err))
		}
	}

	return actor, errors.Join(errs...)
}

func usernameFromEnv() string {
	for _, name := range usernameEnv {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}

	return ""
}

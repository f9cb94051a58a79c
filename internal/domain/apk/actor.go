package apk

// Actor identifies who requested a patch run.
type Actor struct {
	// Hostname is the machine the request came from.
	Hostname string `yaml:"hostname"`
	// Username is the system user who started the run.
	Username string `yaml:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders the actor as user@host.
func (a *Actor) String() string {
	if a == nil {
		return ""
	}

	return a.Username + "@" + a.Hostname
}

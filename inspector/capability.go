package inspector

// Capability reports whether the event bridge can run on this build.
type Capability struct {
	Available bool
	Reason    string
}

// Resolve decides once at startup whether the bridge runs. goos is normally
// runtime.GOOS.
func Resolve(goos string, enabled bool) Capability {
	if !enabled {
		return Capability{Reason: "inspector disabled by configuration"}
	}
	switch goos {
	case "js", "wasip1":
		return Capability{Reason: "inspector websocket client is not supported on " + goos}
	}
	return Capability{Available: true}
}

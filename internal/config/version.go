package config

import "fmt"

// CurrentVersion is the config file format this build reads. A file without
// a version is treated as current.
const CurrentVersion = 1

// VersionError rejects a config file this build cannot read.
type VersionError struct {
	Version int
}

// Newer reports whether the file targets a later release.
func (e *VersionError) Newer() bool {
	return e != nil && e.Version > CurrentVersion
}

func (e *VersionError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Newer():
		return fmt.Sprintf("config version %d needs a newer groundwork (this build reads version %d)", e.Version, CurrentVersion)
	default:
		return fmt.Sprintf("config version %d is not supported (this build reads version %d)", e.Version, CurrentVersion)
	}
}

// ValidateVersion accepts 0 (omitted) and CurrentVersion.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version}
}

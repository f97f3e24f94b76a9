package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		ok      bool
		newer   bool
	}{
		{version: 0, ok: true},
		{version: CurrentVersion, ok: true},
		{version: -1},
		{version: CurrentVersion + 1, newer: true},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.ok {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %v, want *VersionError", tt.version, err)
		}
		if ve.Newer() != tt.newer {
			t.Errorf("ValidateVersion(%d).Newer() = %v", tt.version, ve.Newer())
		}
	}
}

func TestVersionErrorMessage(t *testing.T) {
	if got := (&VersionError{Version: 9}).Error(); !strings.Contains(got, "newer groundwork") {
		t.Errorf("newer message = %q", got)
	}
	if got := (&VersionError{Version: -2}).Error(); !strings.Contains(got, "not supported") {
		t.Errorf("invalid message = %q", got)
	}
	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Error("nil VersionError should render empty")
	}
}

package cluster

import (
	"fmt"
	"regexp"
)

// MaxClusterIDLength bounds cluster IDs, which appear in URLs and cookies
const MaxClusterIDLength = 64

// clusterIDRegex allows alphanumerics, hyphens and underscores
var clusterIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateClusterID checks that id can be used as an actor namespace
func ValidateClusterID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidClusterID)
	}
	if len(id) > MaxClusterIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidClusterID, MaxClusterIDLength)
	}
	if !clusterIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidClusterID, id)
	}
	return nil
}

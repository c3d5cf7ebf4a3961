// Package instance guards against a second copy of the supervisor running
// for the same user session.
package instance

import (
	"fmt"
	"strings"
)

// Release frees a held guard. It is safe to call more than once.
type Release func()

// Acquire takes the OS-wide guard called name. acquired is false, with a nil
// error, when another process already holds it.
func Acquire(name string) (release Release, acquired bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("instance: name required")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, false, fmt.Errorf("instance: invalid name %q", name)
	}
	return acquire(name)
}

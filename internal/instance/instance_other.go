//go:build !unix && !windows

package instance

// Platforms without a supported primitive always acquire.
func acquire(string) (Release, bool, error) {
	return func() {}, true, nil
}

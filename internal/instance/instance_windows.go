//go:build windows

package instance

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
)

func acquire(name string) (Release, bool, error) {
	ptr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, false, fmt.Errorf("instance: encode name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, ptr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("instance: create mutex %q: %w", name, err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() { _ = windows.CloseHandle(handle) })
	}
	return release, true, nil
}

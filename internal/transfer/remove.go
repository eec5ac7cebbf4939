package transfer

import (
	"fmt"
	"strconv"
)

// MoveAside renames p to "p.deleting", or "p.deleting.N" with the first free N, and returns the new path.
func MoveAside(fsys FS, p string) (string, error) {
	candidate := p + ".deleting"
	for i := 1; ; i++ {
		exists, err := Exists(fsys, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		candidate = p + ".deleting." + strconv.Itoa(i)
	}

	if err := fsys.Rename(p, candidate); err != nil {
		return "", fmt.Errorf("failed to move %s aside: %w", p, err)
	}
	return candidate, nil
}

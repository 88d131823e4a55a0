package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// documentMode is the permission of written documents.
const documentMode os.FileMode = 0o644

// atomicWrite writes data to path through a temporary file and a rename,
// so readers never observe a partially written document.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", tmp.Name()).Msg("Failed to remove temporary file")
		}
	}()

	if err := tmp.Chmod(documentMode); err != nil {
		return fmt.Errorf("could not set mode of temporary file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("could not write to temporary file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename temporary file: %w", err)
	}
	return nil
}

package helpers

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// BytesToSize converts a byte count to a human readable string (e.g. "1.50MB").
func BytesToSize(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f%s", value, sizeUnits[unit])
}

// CheckAndMakeDir ensures dir exists, creating it and any parents if needed.
func CheckAndMakeDir(dir string) bool {
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			log.Errorf("Path %s exists but is not a directory", dir)
			return false
		}
		return true
	}
	if !os.IsNotExist(err) {
		log.WithError(err).Errorf("Error checking directory %s", dir)
		return false
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	log.Debugf("Created directory %s", dir)
	return true
}

// CounterWriter counts the bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

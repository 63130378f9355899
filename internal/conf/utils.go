package conf

import (
	"os"
	"path/filepath"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in order of precedence.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "birdnet-walker"))
	}
	return append(paths, "/etc/birdnet-walker")
}

// ResolveLabelFile returns the label file that defines the model output order.
func (c *BirdNETConfig) ResolveLabelFile() string {
	if c.LabelFile != "" {
		return c.LabelFile
	}
	return filepath.Join(c.LabelsPath, "en_us.txt")
}

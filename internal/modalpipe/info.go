package modalpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// Payload types advertised by pipe servers.
const (
	TypeMAVLink = "mavlink_message_t"
	TypeIMU     = "imu_data_t"
	TypeVIO     = "vio_data_t"
	TypeText    = "text"
)

// File names inside a pipe directory.
const (
	infoFileName   = "info"
	socketFileName = "data.sock"
)

// Info is the server description stored as JSON in <pipe dir>/info.
type Info struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Type       string `json:"type"`
	ServerName string `json:"server_name"`
	SizeBytes  int    `json:"size_bytes"`
	ServerPID  int    `json:"server_pid"`
}

// ResolvePath turns a pipe name into its directory. Names beginning with "/"
// are already full paths; anything else lives under baseDir. The result
// always ends with a separator, matching how pipe locations are written in
// configuration ("/run/mpa/imu_apps/").
func ResolvePath(baseDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	var dir string
	if strings.HasPrefix(name, "/") {
		dir = filepath.Clean(name)
	} else {
		if strings.Contains(name, "..") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		dir = filepath.Join(baseDir, name)
	}
	return dir + string(filepath.Separator), nil
}

// ReadInfo loads the server description from a resolved pipe directory.
func ReadInfo(dir string) (Info, error) {
	var info Info
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return info, fmt.Errorf("%w: %s", ErrServerNotAvailable, dir)
		}
		return info, fmt.Errorf("reading pipe info: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parsing pipe info %s: %w", dir, err)
	}
	return info, nil
}

func writeInfo(dir string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pipe info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, infoFileName), data, 0o644); err != nil {
		return fmt.Errorf("writing pipe info: %w", err)
	}
	return nil
}

package sysadmin

import (
	"bufio"
	"os"
	"strings"
)

type OSType int

const (
	Unknown OSType = iota
	Debian
	RHEL
	Suse
)

// String renders the OS family for diagnostic logging.
func (t OSType) String() string {
	switch t {
	case Debian:
		return "debian"
	case RHEL:
		return "rhel"
	case Suse:
		return "suse"
	default:
		return "unknown"
	}
}

// DetectOS attempts to determine the OS family. The CDR engine uses this
// purely for startup diagnostics: AMAFlags defaults and Asterisk spool paths
// vary enough by distro that it's worth logging which one we're on.
func DetectOS() OSType {
	file, err := os.Open("/etc/os-release")
	if err != nil {
		return Unknown
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID_LIKE=") || strings.HasPrefix(line, "ID=") {
			line = strings.ToLower(line)
			if strings.Contains(line, "debian") || strings.Contains(line, "ubuntu") {
				return Debian
			}
			if strings.Contains(line, "rhel") || strings.Contains(line, "centos") || strings.Contains(line, "fedora") {
				return RHEL
			}
			if strings.Contains(line, "suse") {
				return Suse
			}
		}
	}
	return Unknown
}

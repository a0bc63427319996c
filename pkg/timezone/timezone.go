package timezone

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const zonePrefix = "/usr/share/zoneinfo/"

// DetectLocal returns the IANA name of the viewer's timezone. $TZ wins, then
// the operating system setting, then whatever Go resolved for time.Local.
func DetectLocal() string {
	if tz := strings.TrimSpace(os.Getenv("TZ")); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
		log.Warn().Str("tz", tz).Msg("ignoring unknown TZ environment value")
	}
	name, err := getCurrentTimezone()
	if err == nil && name != "" {
		if _, loadErr := time.LoadLocation(name); loadErr == nil {
			return name
		}
	}
	if err != nil {
		log.Debug().Err(err).Msg("failed to detect system timezone")
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}

// Load resolves a timezone name, treating an empty name as UTC.
func Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load timezone '%s'", name)
	}
	return loc, nil
}

// getCurrentTimezone returns the current timezone name based on the operating system
func getCurrentTimezone() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return getMacOSTimezone()
	case "linux":
		return getLinuxTimezone()
	case "windows":
		return getWindowsTimezone()
	default:
		name, _ := time.Now().Zone()
		return name, nil
	}
}

func getMacOSTimezone() (string, error) {
	output, err := exec.Command("systemsetup", "-gettimezone").Output()
	if err != nil {
		return linkedZoneName("/etc/localtime")
	}
	return strings.TrimSpace(strings.Replace(string(output), "Time Zone: ", "", 1)), nil
}

// getWindowsTimezone returns the PowerShell zone id. Non-IANA ids are rejected
// by DetectLocal when they fail to load.
func getWindowsTimezone() (string, error) {
	output, err := exec.Command("powershell", "-Command", "(Get-TimeZone).Id").Output()
	if err != nil {
		return "", errors.Wrap(err, "failed to get current timezone")
	}
	return strings.TrimSpace(string(output)), nil
}

func getLinuxTimezone() (string, error) {
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name, nil
		}
	}
	return linkedZoneName("/etc/localtime")
}

func linkedZoneName(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", errors.Wrapf(err, "readlink %s", path)
	}
	idx := strings.Index(target, zonePrefix)
	if idx == -1 {
		return "", errors.Errorf("%s does not point into %s", path, zonePrefix)
	}
	return target[idx+len(zonePrefix):], nil
}

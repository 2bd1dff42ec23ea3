package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const sidecarName = "pgrman-recovery.conf"

// RecoveryTarget carries the user-specified restore target (spec §4.10
// inputs, §6.3).
type RecoveryTarget struct {
	ArclogPath string
	Time       string // empty if unset
	Xid        string
	Inclusive  *bool
	Timeline   string // "latest" or a number
	Action     string // pause | promote | shutdown, empty if unset
}

// EmitRecoverySignal writes the bit-exact sidecar artifacts spec §6.3
// describes: a sidecar config file, an `include` directive appended to
// the main server config, an empty recovery.signal, and removal of any
// standby.signal.
func EmitRecoverySignal(configDir, dataDir string, target RecoveryTarget, version string) error {
	sidecarPath := filepath.Join(configDir, sidecarName)
	if err := writeSidecar(sidecarPath, target, version); err != nil {
		return err
	}
	if err := appendIncludeDirective(filepath.Join(configDir, "postgresql.conf"), sidecarName); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dataDir, "recovery.signal"), nil, 0644); err != nil {
		return fmt.Errorf("engine: create recovery.signal: %w", err)
	}
	standbySignal := filepath.Join(dataDir, "standby.signal")
	if err := os.Remove(standbySignal); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("engine: remove standby.signal: %w", err)
	}
	return nil
}

func writeSidecar(path string, target RecoveryTarget, version string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# added by pg_rman %s\n", version)
	fmt.Fprintf(&b, "restore_command = 'cp %s/%%f %%p'\n", target.ArclogPath)
	if target.Time != "" {
		fmt.Fprintf(&b, "recovery_target_time = '%s'\n", target.Time)
	}
	if target.Xid != "" {
		fmt.Fprintf(&b, "recovery_target_xid = '%s'\n", target.Xid)
	}
	if target.Inclusive != nil {
		fmt.Fprintf(&b, "recovery_target_inclusive = '%t'\n", *target.Inclusive)
	}
	timeline := target.Timeline
	if timeline == "" {
		timeline = "latest"
	}
	fmt.Fprintf(&b, "recovery_target_timeline = '%s'\n", timeline)
	if target.Action != "" {
		fmt.Fprintf(&b, "recovery_target_action = '%s'\n", target.Action)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("engine: write recovery sidecar: %w", err)
	}
	return nil
}

// appendIncludeDirective removes any prior "# added by pg_rman"
// include line from the main config and appends a fresh one pointing
// at sidecarName (spec §6.3).
func appendIncludeDirective(mainConfPath, sidecarName string) error {
	raw, err := os.ReadFile(mainConfPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("engine: read %s: %w", mainConfPath, err)
	}

	var kept []string
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "# added by pg_rman") && strings.Contains(line, "include") {
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, fmt.Sprintf("include = '%s' # added by pg_rman", sidecarName))

	out := strings.Join(kept, "\n") + "\n"
	if err := os.WriteFile(mainConfPath, []byte(out), 0644); err != nil {
		return fmt.Errorf("engine: write %s: %w", mainConfPath, err)
	}
	return nil
}

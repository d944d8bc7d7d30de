package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"xmigrate/config"

	"go.uber.org/zap"
)

// defaultAnalyticsDataset seeds a fresh install with a starter analytics
// catalog so coverage analysis works before the operator drops in a full
// tenant export. The format matches the XSIAM analytics export columns.
const defaultAnalyticsDataset = `[
  {"Name": "Brute Force Attempt", "Severity": "high", "ATT&CK Technique": "T1110", "Detector Tags": "authentication, credential access"},
  {"Name": "Password Spraying Detected", "Severity": "high", "ATT&CK Technique": "T1110.003", "Detector Tags": "authentication, credential access"},
  {"Name": "Impossible Traveler", "Severity": "medium", "ATT&CK Technique": "T1078", "Detector Tags": "authentication, anomaly"},
  {"Name": "Suspicious PowerShell Execution", "Severity": "high", "ATT&CK Technique": "T1059.001", "Detector Tags": "execution, powershell"},
  {"Name": "DNS Tunneling Detected", "Severity": "high", "ATT&CK Technique": "T1071.004", "Detector Tags": "command and control, dns"},
  {"Name": "Rare Scheduled Task Created", "Severity": "medium", "ATT&CK Technique": "T1053.005", "Detector Tags": "persistence, scheduled task"},
  {"Name": "Large Upload to External Host", "Severity": "medium", "ATT&CK Technique": "T1048", "Detector Tags": "exfiltration, network"},
  {"Name": "Credential Dumping via LSASS Access", "Severity": "critical", "ATT&CK Technique": "T1003.001", "Detector Tags": "credential access, lsass"},
  {"Name": "New Administrative User Created", "Severity": "medium", "ATT&CK Technique": "T1136", "Detector Tags": "persistence, account manipulation"},
  {"Name": "Ransomware File Rename Burst", "Severity": "critical", "ATT&CK Technique": "T1486", "Detector Tags": "impact, ransomware"}
]
`

// EnsureDataDir creates the data directory and verifies it is writable.
// This is a pre-flight check that runs before any service initialization.
func EnsureDataDir(cfg *config.Config, sugar *zap.SugaredLogger) error {
	absPath, err := filepath.Abs(cfg.DataPaths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", cfg.DataPaths.DataDir, err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions\n"+
			"  For bare metal: Run 'mkdir -p %s && chmod 755 %s'", cfg.DataPaths.DataDir, err, absPath, absPath)
	}

	testFile := filepath.Join(absPath, ".xmigrate_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions\n"+
			"  For Docker: Ensure volume is mounted with write access", absPath, err)
	}
	if err := os.Remove(testFile); err != nil {
		sugar.Warnf("Failed to remove write test file %s: %v", testFile, err)
	}

	sugar.Infof("Data directory ready: %s", absPath)
	return nil
}

// SeedCatalog writes the starter analytics dataset if no catalog file
// exists yet. An existing file is never touched.
func SeedCatalog(path string, sugar *zap.SugaredLogger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat catalog file %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(defaultAnalyticsDataset), 0644); err != nil {
		return fmt.Errorf("failed to seed analytics catalog at %s: %w", path, err)
	}

	sugar.Infof("Seeded starter analytics catalog at %s; replace it with a full tenant export for real coverage numbers", path)
	return nil
}

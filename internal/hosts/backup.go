package hosts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxBackups is the maximum number of hosts snapshots to keep.
const MaxBackups = 10

// BackupKeeper keeps timestamped snapshots of the hosts file in the
// user data directory. These complement the fixed backup path written
// by the elevated transaction: the fixed path always holds the state
// just before the last privileged write, the keeper holds history.
type BackupKeeper struct {
	dir string
}

// NewBackupKeeper creates a keeper storing snapshots under dir.
func NewBackupKeeper(dir string) *BackupKeeper {
	return &BackupKeeper{dir: dir}
}

// Snapshot writes the given hosts content as a timestamped backup and
// prunes old snapshots.
func (k *BackupKeeper) Snapshot(content string) error {
	if err := os.MkdirAll(k.dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("hosts.%s.bak", time.Now().Format("20060102-150405"))
	if err := os.WriteFile(filepath.Join(k.dir, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	k.prune()
	return nil
}

func (k *BackupKeeper) prune() {
	backups, err := k.List()
	if err != nil || len(backups) <= MaxBackups {
		return
	}
	// List is newest-first.
	for _, b := range backups[MaxBackups:] {
		os.Remove(filepath.Join(k.dir, b.Name))
	}
}

// BackupInfo describes one snapshot.
type BackupInfo struct {
	Name      string
	Timestamp int64
	Size      int64
}

// List returns available snapshots, newest first.
func (k *BackupKeeper) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "hosts.") || !strings.HasSuffix(entry.Name(), ".bak") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Name:      entry.Name(),
			Timestamp: info.ModTime().Unix(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Timestamp != backups[j].Timestamp {
			return backups[i].Timestamp > backups[j].Timestamp
		}
		return backups[i].Name > backups[j].Name
	})

	return backups, nil
}

// Read returns the content of a snapshot by name. The name is validated
// against path traversal.
func (k *BackupKeeper) Read(name string) (string, error) {
	if filepath.Base(name) != name || !strings.HasPrefix(name, "hosts.") || !strings.HasSuffix(name, ".bak") {
		return "", fmt.Errorf("invalid backup name")
	}
	content, err := os.ReadFile(filepath.Join(k.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to read backup: %w", err)
	}
	return string(content), nil
}

package relay

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/igorsilveira/relay/pkg/config"
	"github.com/spf13/cobra"
)

const backupRoot = "relay-data"

var backupCmd = &cobra.Command{
	Use:   "backup [output-path]",
	Short: "Snapshot the data directory, including channel session databases",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Restore relay state from a backup tarball",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func runBackup(cmd *cobra.Command, args []string) error {
	outPath := fmt.Sprintf("relay-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	if len(args) > 0 {
		outPath = args[0]
	}

	count, err := backupDir(config.DataDir(), outPath)
	if err != nil {
		return err
	}
	fmt.Printf("Backup created: %s (%d files)\n", outPath, count)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	dataDir := config.DataDir()
	count, err := restoreDir(args[0], dataDir)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d files to %s\n", count, dataDir)
	return nil
}

// backupDir writes dataDir to a gzipped tarball at outPath. SQLite WAL and
// shared-memory files are skipped.
func backupDir(dataDir, outPath string) (int, error) {
	if _, err := os.Stat(dataDir); err != nil {
		return 0, fmt.Errorf("data directory %s does not exist", dataDir)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating backup file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	absOut, _ := filepath.Abs(outPath)

	count := 0
	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if strings.HasSuffix(path, "-wal") || strings.HasSuffix(path, "-shm") {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == absOut {
			return nil
		}

		relPath, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join(backupRoot, relPath))

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		if _, err := io.Copy(tw, file); err != nil {
			return err
		}

		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("creating backup: %w", err)
	}
	return count, nil
}

func restoreDir(backupPath, dataDir string) (int, error) {
	f, err := os.Open(backupPath)
	if err != nil {
		return 0, fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}

	root := filepath.Clean(dataDir)
	count := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading tar: %w", err)
		}

		relPath := header.Name
		if idx := strings.Index(relPath, "/"); idx != -1 {
			relPath = relPath[idx+1:]
		} else {
			relPath = ""
		}
		if relPath == "" || relPath == "." {
			continue
		}

		targetPath := filepath.Join(root, filepath.FromSlash(relPath))
		if targetPath != root && !strings.HasPrefix(targetPath, root+string(os.PathSeparator)) {
			return count, fmt.Errorf("invalid path in backup: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0700); err != nil {
				return count, fmt.Errorf("creating directory %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0700); err != nil {
				return count, err
			}
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return count, fmt.Errorf("creating file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return count, fmt.Errorf("writing file %s: %w", targetPath, err)
			}
			outFile.Close()
			count++
		}
	}
	return count, nil
}

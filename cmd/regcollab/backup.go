package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"regcollab/internal/config"
)

// Archive entries are prefixed with a label per state component so a
// restore can put each one back regardless of where the config placed it.
const (
	labelIdentity = "identity"
	labelStore    = "store"
	labelNATS     = "nats"
)

func runBackup(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: regcollab backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	count := 0
	components := []struct {
		label string
		path  string
	}{
		{labelIdentity, cfg.Identity.Path},
		{labelStore, cfg.Store.Path},
		{labelNATS, cfg.NATS.DataDir},
	}
	for _, c := range components {
		n, err := archivePath(tw, c.label, c.path)
		if err != nil {
			return fmt.Errorf("archive %s: %w", c.label, err)
		}
		if n == 0 {
			slog.Warn("no state found for component", "component", c.label, "path", c.path)
		}
		count += n
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", count, formatSize(size))
	return nil
}

// archivePath writes the file or directory at p into the tar stream under
// the component label. Missing paths are skipped, not errors: a fresh
// deployment may not have produced every component yet.
func archivePath(tw *tar.Writer, label, p string) (int, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	if !info.IsDir() {
		if err := archiveFile(tw, path.Join(label, filepath.Base(p)), p, info); err != nil {
			return 0, err
		}
		return 1, nil
	}

	count := 0
	err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(p, fp)
		if err != nil {
			return err
		}
		if err := archiveFile(tw, path.Join(label, filepath.ToSlash(rel)), fp, fi); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func archiveFile(tw *tar.Writer, name, p string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", p, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}

	src, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer src.Close()

	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("write tar data for %s: %w", p, err)
	}
	return nil
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: regcollab restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	targets := map[string]string{
		labelIdentity: cfg.Identity.Path,
		labelStore:    cfg.Store.Path,
		labelNATS:     cfg.NATS.DataDir,
	}

	if !overwrite {
		for label, p := range targets {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s state already exists at %s, add -overwrite to replace", label, p)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		label, rel := splitComponentPath(hdr.Name)
		base, ok := targets[label]
		if !ok || base == "" {
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
			continue
		}

		dest := restoreDest(label, base, rel)
		if dest == "" {
			slog.Warn("skipping archive entry outside component", "name", hdr.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", dest, err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", dest, err)
		}
		restored++
	}

	fmt.Printf("Restore complete: %d files\n", restored)
	return nil
}

// restoreDest maps an archive entry back to its on-disk location. Single
// file components (identity, store) restore to the configured path itself;
// directory components restore relative to the configured directory.
func restoreDest(label, base, rel string) string {
	rel = path.Clean(rel)
	if rel == "" || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	if label == labelNATS {
		return filepath.Join(base, filepath.FromSlash(rel))
	}
	return base
}

// splitComponentPath splits "store/regcollab.db" into ("store", "regcollab.db").
func splitComponentPath(name string) (label, rel string) {
	name = strings.TrimLeft(name, "./")
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "", ""
	}
	return name[:idx], name[idx+1:]
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// HalvingFile is an append-only zapcore.WriteSyncer. Once the file grows
// past its limit it is rewritten to keep only the newer half of its lines.
type HalvingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// OpenHalvingFile opens path for appending, creating it and its directory
// when missing.
func OpenHalvingFile(path string, maxBytes int64) (*HalvingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	h := &HalvingFile{path: path, maxBytes: maxBytes}
	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HalvingFile) open() error {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	h.file = f
	h.size = info.Size()
	return nil
}

// Write appends p and halves the file when it exceeds the limit.
func (h *HalvingFile) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		if err := h.open(); err != nil {
			return 0, err
		}
	}
	n, err := h.file.Write(p)
	h.size += int64(n)
	if err != nil {
		return n, err
	}
	if h.maxBytes > 0 && h.size > h.maxBytes {
		if err := h.halve(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (h *HalvingFile) halve() error {
	if err := h.file.Close(); err != nil {
		h.file = nil
		return fmt.Errorf("close log file: %w", err)
	}
	h.file = nil

	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	lines := bytes.SplitAfter(data, []byte("\n"))
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	kept := bytes.Join(lines[len(lines)/2:], nil)

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, kept, 0o600); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("replace log file: %w", err)
	}
	return h.open()
}

// Sync flushes the file to disk.
func (h *HalvingFile) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	return h.file.Sync()
}

// Close closes the underlying file.
func (h *HalvingFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

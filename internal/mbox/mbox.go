// Package mbox splits mbox archives into individual message files so each
// message can go through the .eml conversion path.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/rs/zerolog/log"
)

// Ext is the file extension of mbox archives.
const Ext = ".mbox"

// MessageName returns the file name of the idx-th message (1-based) of the
// archive at mboxPath.
func MessageName(mboxPath string, idx int) string {
	base := strings.TrimSuffix(filepath.Base(mboxPath), filepath.Ext(mboxPath))
	return fmt.Sprintf("%s-%04d.eml", base, idx)
}

// Split writes every message of mboxPath to dir as "<base>-NNNN.eml" and
// returns the written paths in archive order. An empty archive yields no
// paths. Cancellation is checked between messages; files already written
// are kept.
func Split(ctx context.Context, mboxPath, dir string) ([]string, error) {
	f, err := os.Open(mboxPath)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	reader := mboxlib.NewReader(f)
	var out []string
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		msg, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("message %d: %w", idx, err)
		}
		path := filepath.Join(dir, MessageName(mboxPath, idx))
		if err := writeMessage(path, msg); err != nil {
			return out, fmt.Errorf("message %d: %w", idx, err)
		}
		out = append(out, path)
	}
	log.Debug().Str("mbox", mboxPath).Int("messages", len(out)).Str("dir", dir).Msg("mbox split")
	return out, nil
}

func writeMessage(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
